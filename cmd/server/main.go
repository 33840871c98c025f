package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/edusys/bulkimport/internal/config"
	"github.com/edusys/bulkimport/internal/db"
	"github.com/edusys/bulkimport/internal/domain"
	"github.com/edusys/bulkimport/internal/importer"
	"github.com/edusys/bulkimport/internal/middleware"
	"github.com/edusys/bulkimport/internal/repository"
	"github.com/edusys/bulkimport/internal/schema"

	authmw "github.com/edusys/bulkimport/internal/auth"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	registry := schema.Default()
	for entity, fields := range cfg.Synonyms {
		for field, synonyms := range fields {
			registry, err = registry.WithSynonyms(entity, field, synonyms...)
			if err != nil {
				log.Fatalf("Invalid synonym configuration: %v", err)
			}
		}
	}

	defaultPolicy, err := domain.ParseDuplicatePolicy(cfg.Import.DefaultPolicy)
	if err != nil {
		log.Fatalf("Invalid default duplicate policy: %v", err)
	}

	store := repository.NewRecordStore(conn.Pool)
	history := repository.NewImportHistoryRepository(conn.Pool)
	service := importer.NewService(registry, store, history, importer.Options{
		ErrorCap:        cfg.Import.ErrorCap,
		PreloadTimeout:  cfg.Import.PreloadTimeout,
		ValidateWorkers: cfg.Import.ValidateWorkers,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	router := chi.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(authmw.ActorMiddleware)
	router.Use(corsHandler.Handler)
	router.Mount("/api", importer.NewHTTPHandler(service, registry, history, defaultPolicy))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting import server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
