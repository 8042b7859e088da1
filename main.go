package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mbolis/sensing-survey/app"
	"github.com/mbolis/sensing-survey/config"
	"github.com/mbolis/sensing-survey/database"
	"github.com/mbolis/sensing-survey/log"
	"github.com/mbolis/sensing-survey/routes"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.LogFile != "" {
		defer log.RotateFile(cfg.LogFile, 100).Close()
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	app, err := app.New(db, cfg)
	if err != nil {
		log.Fatal("main.app:", err)
	}

	if err := bootstrapAdmin(app); err != nil {
		log.Fatal("main.bootstrap_admin:", err)
	}

	handler := routes.Wire(app)

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

// bootstrapAdmin creates the configured admin user unless it exists.
func bootstrapAdmin(app app.App) error {
	username, password, ok := app.Bootstrap()
	if !ok {
		return nil
	}
	ctx := context.Background()
	exists, err := app.Users.Exists(ctx, username)
	if err != nil || exists {
		return err
	}
	if err := app.Users.Create(ctx, username, password, true); err != nil {
		return err
	}
	log.Infof("main.bootstrap_admin: created %s", username)
	return nil
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
