package routes

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mbolis/sensing-survey/app"
	"github.com/mbolis/sensing-survey/httpx"
	"github.com/mbolis/sensing-survey/log"
)

var reRefresh = regexp.MustCompile(`(?i)^refresh\s+(.*)`)

// loginCredentials reads basic auth, falling back to the user and password
// form fields mobile clients send.
func loginCredentials(r *http.Request) (user, pass string, ok bool) {
	if user, pass, ok = r.BasicAuth(); ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		return "", "", false
	}
	user, pass = r.PostForm.Get("user"), r.PostForm.Get("password")
	return user, pass, user != "" && pass != ""
}

// Login exchanges user credentials for a bearer and a refresh token.
func Login(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := loginCredentials(r)
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "login.credentials")
			return
		}

		grant(app, w, r, url.Values{
			"grant_type": {"password"},
			"username":   {user},
			"password":   {pass},
		}, "login.new_request")
	}
}

// Refresh exchanges the refresh token in `Authorization: Refresh <token>`
// for a new token pair.
func Refresh(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		match := reRefresh.FindStringSubmatch(r.Header.Get("authorization"))
		if len(match) == 0 {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "refresh.token")
			return
		}

		grant(app, w, r, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {match[1]},
		}, "refresh.new_request")
	}
}

// grant runs an OAuth token request with the given form against the bearer
// server.
func grant(app app.App, w http.ResponseWriter, r *http.Request, form url.Values, code string) {
	body := form.Encode()
	req, err := http.NewRequestWithContext(r.Context(), "POST", "/", strings.NewReader(body))
	if err != nil {
		httpx.LogInternalError(w, code, err)
		return
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	req.Header.Set("content-length", strconv.Itoa(len(body)))

	resp := httpx.NewResponseBuffer()
	app.UserCredentials(resp, req)
	if status := resp.Status(); status >= 400 {
		log.Debugf("%s: token request answered %d", code, status)
	}
	resp.Flush(w)
}
