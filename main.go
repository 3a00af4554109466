package main

import (
	"fmt"
	"log"
	"os"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/internal/database"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: sendstack <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate   Run database migrations")
		fmt.Println("  server    Start the application server")
		os.Exit(1)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Config initialization failed: %v", err)
	}
	if cfg == nil {
		log.Fatalf("config is empty")
	}

	// Setup the database
	sendstackDB, err := database.InitSendstackDatabase(&database.DatabaseConfig{
		DBName:          cfg.SendstackDatabaseConfig.DBName,
		Host:            cfg.SendstackDatabaseConfig.Host,
		Port:            cfg.SendstackDatabaseConfig.Port,
		User:            cfg.SendstackDatabaseConfig.User,
		Password:        cfg.SendstackDatabaseConfig.Password,
		MaxConn:         cfg.SendstackDatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.SendstackDatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.SendstackDatabaseConfig.ConnMaxLifetime,
		LogLevel:        cfg.SendstackDatabaseConfig.LogLevel,
		SSLMode:         cfg.SendstackDatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Sendstack database initialization failed: %v", err)
	}

	switch os.Args[1] {
	case "migrate":

		err := repository.MigrateDB(sendstackDB)
		if err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
		log.Println("Database migration completed successfully")

	case "server":

		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.Println("SendStack starting up...")

		server, err := server.NewServer(cfg, sendstackDB)
		if err != nil {
			log.Fatalf("Server setup failed: %v", err)
		}

		err = server.Run()
		if err != nil {
			log.Fatalf("Server startup failed: %v", err)
		}

		log.Println("Shutdown complete")

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Println("Usage: sendstack <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate   Run database migrations")
		fmt.Println("  server    Start the application server")
		os.Exit(1)
	}
}
