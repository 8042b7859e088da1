package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mbolis/sensing-survey/app"
	"github.com/mbolis/sensing-survey/routes/middlewares"
)

const loginPath = "/api/login"

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.RequestID, middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))
	root.Mount("/omh/v1", omhRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	api.Group(func(r chi.Router) {
		r.Use(middlewares.CookieAuth(app.BearerServer, loginPath), middlewares.Authenticated(app.TokenSecret))

		r.Get("/campaigns", ListCampaigns(app))

		r.Post("/survey/upload", UploadSurveyResponses(app))
		r.Get("/survey_response/read", ReadSurveyResponses(app))
		r.Post("/survey_response/update", UpdatePrivacyState(app))
		r.Post("/survey_response/delete", DeleteSurveyResponse(app))
		r.Get("/survey_response/privacy_states", ListPrivacyStates(app))

		r.Get("/media/{id}", GetMedia(app))
	})

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(app.TokenSecret))

		r.Post("/users", CreateUser(app))
		r.Post("/campaigns", CreateCampaign(app))
		r.Get("/campaigns", ListAllCampaigns(app))
		r.Put("/campaigns/{urn}/state", SetCampaignState(app))
		r.Post("/campaigns/{urn}/roles", AssignRole(app))
	})

	return api
}

func omhRouter(app app.App) http.Handler {
	omh := chi.NewRouter()
	omh.Use(middlewares.Authenticated(app.TokenSecret))

	omh.Get("/", ListSchemas(app))
	omh.Get(`/{id}/{version:^\d+$}/data`, ReadSchemaData(app))

	return omh
}
