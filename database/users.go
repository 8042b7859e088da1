package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbolis/sensing-survey/model"
)

type Users struct {
	db *sql.DB
}

func NewUsers(db *sql.DB) *Users {
	return &Users{db}
}

const sqlIsAdmin = `SELECT admin FROM user WHERE username = ?`

// IsAdmin is false for unknown users.
func (u *Users) IsAdmin(ctx context.Context, username string) (bool, error) {
	var admin bool
	err := u.db.QueryRowContext(ctx, sqlIsAdmin, username).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dataAccess("db.users.is_admin", err, sqlIsAdmin, username)
	}
	return admin, nil
}

const sqlGetRoles = `
	SELECT ur.role
	FROM user u, campaign c, user_role ur, user_role_campaign urc
	WHERE u.username = ?
		AND u.id = urc.user_id
		AND c.urn = ?
		AND c.id = urc.campaign_id
		AND urc.user_role_id = ur.id`

func (u *Users) Roles(ctx context.Context, username, campaignID string) ([]model.Role, error) {
	rows, err := u.db.QueryContext(ctx, sqlGetRoles, username, campaignID)
	if err != nil {
		return nil, dataAccess("db.users.roles", err, sqlGetRoles, username, campaignID)
	}
	defer rows.Close()

	var roles []model.Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, dataAccess("db.users.roles.scan", err, sqlGetRoles, username, campaignID)
		}
		r, err := model.ParseRole(role)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dataAccess("db.users.roles", err, sqlGetRoles, username, campaignID)
	}
	return roles, nil
}

const sqlInsertUser = `INSERT INTO user (username, password_hash, admin) VALUES (?, ?, ?)`

func (u *Users) Create(ctx context.Context, username, password string, admin bool) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	_, err = u.db.ExecContext(ctx, sqlInsertUser, username, hash, admin)
	if isUnique(err, "user.username") {
		return errors.Wrapf(ErrExists, "user %s", username)
	}
	if err != nil {
		return dataAccess("db.users.create", err, sqlInsertUser, username, "***", admin)
	}
	return nil
}

const sqlUserExists = `SELECT 1 FROM user WHERE username = ?`

func (u *Users) Exists(ctx context.Context, username string) (bool, error) {
	var one int
	err := u.db.QueryRowContext(ctx, sqlUserExists, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dataAccess("db.users.exists", err, sqlUserExists, username)
	}
	return true, nil
}

const sqlAssignRole = `
	INSERT OR IGNORE INTO user_role_campaign (user_id, campaign_id, user_role_id)
	SELECT u.id, c.id, ur.id
	FROM user u, campaign c, user_role ur
	WHERE u.username = ? AND c.urn = ? AND ur.role = ?`

const sqlRoleTargetsExist = `
	SELECT
		EXISTS (SELECT 1 FROM user WHERE username = ?),
		EXISTS (SELECT 1 FROM campaign WHERE urn = ?)`

// AssignRole gives username role in campaignID. Assigning a role twice is a
// no-op.
func (u *Users) AssignRole(ctx context.Context, username, campaignID string, role model.Role) error {
	var userOK, campaignOK bool
	err := u.db.QueryRowContext(ctx, sqlRoleTargetsExist, username, campaignID).Scan(&userOK, &campaignOK)
	if err != nil {
		return dataAccess("db.users.assign_role.check", err, sqlRoleTargetsExist, username, campaignID)
	}
	if !userOK {
		return errors.Wrapf(ErrNotFound, "user %s", username)
	}
	if !campaignOK {
		return errors.Wrapf(ErrNotFound, "campaign %s", campaignID)
	}

	_, err = u.db.ExecContext(ctx, sqlAssignRole, username, campaignID, string(role))
	if err != nil {
		return dataAccess("db.users.assign_role", err, sqlAssignRole, username, campaignID, role)
	}
	return nil
}

const sqlPasswordHash = `SELECT password_hash FROM user WHERE username = ? AND enabled`

// PasswordHash is ErrNotFound for unknown or disabled users.
func (u *Users) PasswordHash(ctx context.Context, username string) ([]byte, error) {
	var hash []byte
	err := u.db.QueryRowContext(ctx, sqlPasswordHash, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "user %s", username)
	}
	if err != nil {
		return nil, dataAccess("db.users.password_hash", err, sqlPasswordHash, username)
	}
	return hash, nil
}

const sqlStoreToken = `
	INSERT INTO token (username, token_id, refresh_token_id, expiration)
	VALUES (?, ?, ?, ?)`

func (u *Users) StoreToken(ctx context.Context, username, tokenID, refreshTokenID string, expiration time.Time) error {
	_, err := u.db.ExecContext(ctx, sqlStoreToken, username, tokenID, refreshTokenID, expiration)
	if err != nil {
		return dataAccess("db.users.store_token", err, sqlStoreToken, username, tokenID, refreshTokenID, expiration)
	}
	return nil
}

const (
	sqlGetToken = `
	SELECT id, expiration FROM token
	WHERE username = ?
		AND token_id = ?
		AND refresh_token_id = ?`
	sqlDeleteToken = `DELETE FROM token WHERE id = ?`
)

// ConsumeToken removes a stored token pair, returning its expiration.
func (u *Users) ConsumeToken(ctx context.Context, username, tokenID, refreshTokenID string) (expiration time.Time, err error) {
	err = inTx(ctx, u.db, "db.users.consume_token", func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, sqlGetToken, username, tokenID, refreshTokenID).Scan(&id, &expiration)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrap(ErrNotFound, "token")
		}
		if err != nil {
			return dataAccess("db.users.consume_token.get", err, sqlGetToken, username, tokenID)
		}
		if _, err = tx.ExecContext(ctx, sqlDeleteToken, id); err != nil {
			return dataAccess("db.users.consume_token.delete", err, sqlDeleteToken, id)
		}
		return nil
	})
	return
}
