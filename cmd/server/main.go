package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/codehive/backend/internal/infrastructure/config"
	"github.com/codehive/backend/internal/infrastructure/server"
)

func main() {
	port := flag.String("port", "", "override listen port")
	dbPath := flag.String("db", "", "override SQLite database path")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("error during shutdown: %v", err)
		}
	case err := <-errChan:
		srv.Close()
		log.Fatalf("server error: %v", err)
	}
}
