package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/customeros/exchangestack/config"
	"github.com/customeros/exchangestack/internal/database"
	"github.com/customeros/exchangestack/internal/repository"
	"github.com/customeros/exchangestack/server"
)

func main() {
	app := &cli.App{
		Name:  "exchangestack",
		Usage: "keeps Exchange mailboxes in sync over EWS and OWA",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: migrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, cli.Exit("config initialization failed: "+err.Error(), 1)
	}
	db, err := database.InitExchangeDatabase(cfg.DatabaseConfig)
	if err != nil {
		return nil, nil, cli.Exit(err.Error(), 1)
	}
	return cfg, db, nil
}

func migrate(*cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	if err := repository.MigrateDB(cfg.DatabaseConfig, db); err != nil {
		return cli.Exit("database migration failed: "+err.Error(), 1)
	}
	log.Println("Database migration completed successfully")
	return nil
}

func serve(*cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("ExchangeStack starting up...")

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		return cli.Exit("server setup failed: "+err.Error(), 1)
	}
	if err := srv.Run(); err != nil {
		return cli.Exit("server startup failed: "+err.Error(), 1)
	}
	log.Println("Shutdown complete")
	return nil
}
