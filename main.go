package main

import (
	"github.com/wfunc/raceserver/config"
	"github.com/wfunc/raceserver/logger"
	"github.com/wfunc/raceserver/persistence"
	"github.com/wfunc/raceserver/server"
)

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	var db persistence.Store
	pg := cfg.Database.Postgres
	switch cfg.Database.Driver {
	case "sql":
		db, err = persistence.NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	default:
		db, err = persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	}
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Log.Info("Database connection successful.")

	// Initialize Race Server
	raceServer := server.NewRaceServer(cfg, db)

	// Start Server
	logger.Log.Infof("Starting race server on %s", cfg.Server.HTTPAddress)
	if err := raceServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
