package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/oauth"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbolis/sensing-survey/config"
	"github.com/mbolis/sensing-survey/log"
)

// refresh tokens outlive access tokens by far
const refreshTokenTTL = 8760 * time.Hour

// Users is the account store behind token issue. *database.Users satisfies
// it.
type Users interface {
	PasswordHash(ctx context.Context, username string) ([]byte, error)
	IsAdmin(ctx context.Context, username string) (bool, error)
	StoreToken(ctx context.Context, username, tokenID, refreshTokenID string, expiration time.Time) error
	ConsumeToken(ctx context.Context, username, tokenID, refreshTokenID string) (time.Time, error)
}

var errRefresh = errors.New("could not refresh")

type credentialsVerifier struct {
	users Users
	now   func() time.Time
}

func CredentialsVerifier(users Users) oauth.CredentialsVerifier {
	return &credentialsVerifier{users, time.Now}
}

func NewBearerServer(users Users, cfg config.Config) *oauth.BearerServer {
	return oauth.NewBearerServer(cfg.TokenSecret, cfg.TokenTTL, CredentialsVerifier(users), nil)
}

func (cs *credentialsVerifier) ValidateUser(username string, password string, scope string, r *http.Request) error {
	hash, err := cs.users.PasswordHash(r.Context(), username)
	if err != nil {
		log.Debugf("login.user: %s", err)
		return err
	}

	return bcrypt.CompareHashAndPassword(hash, []byte(password))
}
func (cs *credentialsVerifier) StoreTokenID(tokenType oauth.TokenType, credential string, tokenID string, refreshTokenID string) error {
	return cs.users.StoreToken(context.Background(), credential, tokenID, refreshTokenID, cs.now().Add(refreshTokenTTL))
}
func (cs *credentialsVerifier) ValidateTokenID(tokenType oauth.TokenType, credential string, tokenID string, refreshTokenID string) error {
	expiration, err := cs.users.ConsumeToken(context.Background(), credential, tokenID, refreshTokenID)
	if err != nil {
		log.Debugf("refresh.token: %s", err)
		return errRefresh
	}

	if expiration.Before(cs.now()) {
		return errRefresh
	}
	return nil
}
func (cs *credentialsVerifier) AddClaims(tokenType oauth.TokenType, credential string, tokenID string, scope string, r *http.Request) (map[string]string, error) {
	admin, err := cs.users.IsAdmin(r.Context(), credential)
	if err != nil {
		return nil, err
	}
	if admin {
		return map[string]string{"roles": "admin,user"}, nil
	}
	return map[string]string{"roles": "user"}, nil
}
func (*credentialsVerifier) AddProperties(tokenType oauth.TokenType, credential string, tokenID string, scope string, r *http.Request) (map[string]string, error) {
	return map[string]string{}, nil
}
func (*credentialsVerifier) ValidateClient(clientID string, clientSecret string, scope string, r *http.Request) error {
	return errors.New("not supported")
}
