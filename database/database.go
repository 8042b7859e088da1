package database

import (
	"database/sql"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mbolis/sensing-survey/config"
	"github.com/mbolis/sensing-survey/log"
)

func Open(cfg config.Config) (db *sql.DB, err error) {
	return open(cfg.DBUrl)
}

func open(path string) (db *sql.DB, err error) {
	// pragmas go in the DSN so that every pooled connection gets them
	dsn := "file:" + path + "?" + url.Values{
		"_foreign_keys": {"on"},
		"_busy_timeout": {"5000"},
		"_journal_mode": {"WAL"},
		"_txlock":       {"immediate"},
	}.Encode()
	db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return
	}

	// db tuning options
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	err = migrateDB(db)
	if err != nil {
		db.Close()
		return
	}

	log.Debugf("database: opened %s", path)
	return
}
