package routes

import (
	"errors"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/mbolis/sensing-survey/app"
	"github.com/mbolis/sensing-survey/database"
	"github.com/mbolis/sensing-survey/httpx"
	"github.com/mbolis/sensing-survey/log"
	"github.com/mbolis/sensing-survey/model"
)

var reUsername = regexp.MustCompile(`^[a-z0-9._-]{3,25}$`)

type newUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Admin    bool   `json:"admin"`
}

func CreateUser(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := newUser{}
		err := render.DecodeJSON(r.Body, &user)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if !reUsername.MatchString(user.Username) {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.create_user.username", "invalid username %q", user.Username)
			return
		}
		if len(user.Password) < 8 {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.create_user.password", "password too short")
			return
		}

		err = app.Users.Create(r.Context(), user.Username, user.Password, user.Admin)
		if errors.Is(err, database.ErrExists) {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "db.create_user.exists", "user %s already exists", user.Username)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.create_user", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"username": user.Username,
		})
	}
}

// CreateCampaign stores a campaign from the YAML definition in the body.
func CreateCampaign(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		definition, err := io.ReadAll(r.Body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.read_body")
			return
		}
		if _, err := model.ParseCampaign(definition); err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.parse_campaign", "%s", err)
			return
		}

		campaign, err := app.Campaigns.Create(r.Context(), definition)
		if errors.Is(err, database.ErrExists) {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "db.create_campaign.exists", "%s", err)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.create_campaign", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id":                 campaign.ID,
			"revision":           campaign.Revision,
			"creation_timestamp": campaign.CreationTimestamp,
		})
	}
}

func ListAllCampaigns(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaigns, err := app.Campaigns.List(r.Context(), "", true)
		if err != nil {
			httpx.LogInternalError(w, "db.list_all_campaigns", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"campaigns": campaigns,
		})
	}
}

type campaignState struct {
	RunningState model.RunningState `json:"running_state"`
	PrivacyState model.PrivacyState `json:"privacy_state"`
}

func SetCampaignState(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urn := chi.URLParam(r, "urn")

		state := campaignState{}
		err := render.DecodeJSON(r.Body, &state)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if state.RunningState != model.Running && state.RunningState != model.Stopped {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.campaign_state.running", "unknown running state %q", state.RunningState)
			return
		}
		if _, err := model.ParsePrivacyState(string(state.PrivacyState)); err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.campaign_state.privacy", "%s", err)
			return
		}

		err = app.Campaigns.SetState(r.Context(), urn, state.RunningState, state.PrivacyState)
		if errors.Is(err, database.ErrNotFound) {
			httpx.LogNotFound(w, "set_campaign_state", urn)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.set_campaign_state", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type roleAssignment struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func AssignRole(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urn := chi.URLParam(r, "urn")

		assignment := roleAssignment{}
		err := render.DecodeJSON(r.Body, &assignment)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		role, err := model.ParseRole(assignment.Role)
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.assign_role", "%s", err)
			return
		}

		err = app.Users.AssignRole(r.Context(), assignment.Username, urn, role)
		if errors.Is(err, database.ErrNotFound) {
			httpx.LogNotFound(w, "assign_role", err)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.assign_role", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
