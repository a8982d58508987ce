package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/opbuddy121/fibre-joint-app/config"
	"github.com/opbuddy121/fibre-joint-app/internal/api/handlers"
	"github.com/opbuddy121/fibre-joint-app/internal/api/middleware"
	"github.com/opbuddy121/fibre-joint-app/internal/api/routes"
	"github.com/opbuddy121/fibre-joint-app/internal/cache"
	"github.com/opbuddy121/fibre-joint-app/internal/logger"
	"github.com/opbuddy121/fibre-joint-app/internal/providers/postcode"
	"github.com/opbuddy121/fibre-joint-app/internal/repositories"
	"github.com/opbuddy121/fibre-joint-app/internal/repositories/memory"
	mongorepo "github.com/opbuddy121/fibre-joint-app/internal/repositories/mongo"
	pgrepo "github.com/opbuddy121/fibre-joint-app/internal/repositories/postgres"
	"github.com/opbuddy121/fibre-joint-app/internal/services"
	"github.com/opbuddy121/fibre-joint-app/internal/storage"
	"github.com/opbuddy121/fibre-joint-app/internal/workers"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogText)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session store
	var sessions repositories.SessionRepository
	switch cfg.SessionStore {
	case "memory":
		sessions = memory.NewSessionRepo()
		log.Warn("using in-memory session store; data is lost on restart")
	case "mongo":
		client, db, err := config.InitMongo(ctx, cfg)
		if err != nil {
			log.WithError(err).Fatal("MongoDB init error")
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		if err := config.EnsureMongoIndexes(ctx, db); err != nil {
			log.WithError(err).Warn("mongo index setup failed")
		}
		sessions = mongorepo.NewSessionRepo(db)
		log.WithField("db", cfg.MongoDB).Info("MongoDB connected")
	default:
		log.WithField("store", cfg.SessionStore).Fatal("SESSION_STORE must be mongo or memory")
	}

	// Redis is optional: postcode cache and journal stream
	rdb, err := config.InitRedis(ctx, cfg)
	if err != nil {
		log.WithError(err).Info("Redis disabled")
	} else {
		defer rdb.Close()
		log.Info("Redis connected")
	}

	// Transition journal (optional)
	var journal services.Journal = services.NopJournal{}
	var relay *workers.JournalRelay
	if db, err := config.InitPostgres(ctx, cfg); err != nil {
		log.WithError(err).Info("transition journal disabled")
	} else {
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		journal = services.NewJournalService(pgrepo.NewEventRepo(db))
		log.Info("PostgreSQL connected")
	}

	engineJournal := journal
	if rdb != nil {
		if _, ok := journal.(services.NopJournal); !ok {
			engineJournal = workers.NewStreamJournal(rdb, cfg.JournalStream, journal, log)
			relay = &workers.JournalRelay{
				Redis:      rdb,
				Store:      journal,
				NumWorkers: cfg.JournalWorkers,
				Logger:     log,
				Stream:     cfg.JournalStream,
			}
			if err := relay.Start(ctx); err != nil {
				log.WithError(err).Fatal("journal relay start failed")
			}
		}
	}

	// Postcode lookup, cached
	var postcodeCache cache.Cache = cache.NewMemoryCache()
	if rdb != nil {
		postcodeCache = cache.NewRedisCache(rdb, "fibre:")
	}
	postcodes := postcode.NewCached(postcode.NewPostcodesIO(cfg.PostcodeAPIURL, log), postcodeCache, cfg.PostcodeCacheTTL)

	// Photo storage
	var uploader storage.Uploader
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSUploader(ctx, storage.GCSConfig{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentialFile,
			PublicRead:      cfg.GCSPublicRead,
		})
		if err != nil {
			log.WithError(err).Fatal("GCS init error")
		}
		defer gcs.Close()
		uploader = gcs
	} else {
		log.Warn("GCS_BUCKET not set; checkout photos will be dropped")
	}

	registry := services.NewRegistry(services.EngineDeps{
		Sessions:  sessions,
		Uploader:  uploader,
		Postcodes: postcodes,
		Journal:   engineJournal,
		Logger:    log,
		Now:       time.Now,
	})
	go registry.RunJanitor(ctx, time.Minute, cfg.EngineIdleTTL)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	auth := middleware.JWTConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
	if auth.Secret == "" {
		log.Warn("AUTH_JWT_SECRET not set; every protected route will fail")
	}
	routes.RegisterRoutes(r, routes.Deps{
		Session: handlers.NewSessionHandler(registry, journal, time.Now),
		WS:      handlers.NewWSHandler(registry, time.Now, cfg.AllowedOrigins),
		Auth:    auth,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	registry.CloseAll()
	if relay != nil {
		relay.Wait()
	}
	log.WithFields(logrus.Fields{"engines": registry.Len()}).Info("stopped")
}
