package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/library-service/cmd/api/config"
	"github.com/library-service/cmd/api/database"
	libraryhttp "github.com/library-service/cmd/api/http"
	"github.com/library-service/cmd/api/inmemory"
	"github.com/library-service/cmd/api/library"
	"github.com/library-service/cmd/api/notifications"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	_ "github.com/lib/pq"
)

func main() {
	err := run()
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()

	// Pick the repository: postgres when a DATABASE_URL is set, the
	// in-memory store otherwise.
	var repo library.Repository
	if cfg.DatabaseURL != "" {
		dbObject, err := database.ConnectDb(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting with db: %w", err)
		}
		defer dbObject.Close()

		store := database.NewStore(dbObject, cfg.LockTimeout)
		err = database.MigrationUp(store, cfg.MigrationsPath)
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrating: %w", err)
		}
		repo = store
	} else {
		log.Println("DATABASE_URL not set, using the in-memory store.")
		store, err := inmemory.NewInMemoryStore()
		if err != nil {
			return fmt.Errorf("creating in-memory store: %w", err)
		}
		repo = store
	}

	ntfy := notifications.NewNtfy(cfg.EnableNotifications, cfg.NotificationsTimeout, cfg.NotificationsBaseURL)
	libraryService := library.NewService(repo, ntfy, cfg.MaxPageSize)
	libraryHandler := libraryhttp.NewLibraryHandler(libraryService)

	server := libraryhttp.NewServer(libraryhttp.ServerConfig{Port: cfg.Port, APIKey: cfg.APIKey}, libraryHandler)

	go func() {
		log.Printf("listening on %s", server.Addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("unexpected http server error: %v", err)
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	ctx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	log.Println("Graceful shutdown complete.")
	return nil
}
