package app

import (
	"database/sql"

	"github.com/go-chi/oauth"

	"github.com/mbolis/sensing-survey/config"
	"github.com/mbolis/sensing-survey/database"
	"github.com/mbolis/sensing-survey/httpx"
	"github.com/mbolis/sensing-survey/service"
)

type App struct {
	*sql.DB
	*oauth.BearerServer
	config.Config

	Users           *database.Users
	Campaigns       *database.Campaigns
	Media           *database.MediaStore
	SurveyResponses *service.SurveyResponses
}

// New builds every store and service over db.
func New(db *sql.DB, cfg config.Config) (App, error) {
	media, err := database.NewMediaStore(db, cfg.MediaDir)
	if err != nil {
		return App{}, err
	}
	users := database.NewUsers(db)
	campaigns := database.NewCampaigns(db)

	responses := service.NewSurveyResponses(database.NewSurveyResponses(db, media), media, campaigns, users)
	responses.DefaultPrivacy = cfg.DefaultPrivacy

	return App{
		DB:              db,
		BearerServer:    httpx.NewBearerServer(users, cfg),
		Config:          cfg,
		Users:           users,
		Campaigns:       campaigns,
		Media:           media,
		SurveyResponses: responses,
	}, nil
}
