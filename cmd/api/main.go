package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/umlcraft/umlcraft-backend/config"
	"github.com/umlcraft/umlcraft-backend/internal/auth"
	"github.com/umlcraft/umlcraft-backend/internal/bootstrap"
	"github.com/umlcraft/umlcraft-backend/internal/generation"
	"github.com/umlcraft/umlcraft-backend/internal/maintenance"
	"github.com/umlcraft/umlcraft-backend/internal/preview"
	"github.com/umlcraft/umlcraft-backend/internal/render"
	"github.com/umlcraft/umlcraft-backend/internal/storage/postgres"
	"github.com/umlcraft/umlcraft-backend/internal/versions"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	bootstrap.SetGinMode(cfg.App.Environment)

	ctx := context.Background()

	// Schema bootstrap runs over database/sql; the request path uses pgx.
	sqlDB, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := postgres.ApplySchema(sqlDB); err != nil {
		log.Fatalf("db schema: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("[warn] closing schema connection: %v", err)
	}

	pool, err := bootstrap.OpenDB(ctx, bootstrap.DBOptions{DSN: postgres.DSN(&cfg.Database)})
	if err != nil {
		log.Fatalf("db pool: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var cache preview.DescriptionCache
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[warn] redis unavailable, description cache disabled: %v", err)
	} else {
		cache = preview.NewRedisCache(rdb)
	}

	var authMW gin.HandlerFunc
	if cfg.Auth.DevMode {
		log.Println("[warn] auth dev mode enabled, requests are not verified")
		authMW = auth.OptionalUser()
	} else {
		fb, err := auth.InitializeFirebase(cfg.Auth.CredentialsPath)
		if err != nil {
			log.Fatalf("firebase: %v", err)
		}
		authMW = auth.FirebaseAuth(fb)
	}

	var tokens oauth2.TokenSource
	if cfg.Generation.ServiceToken != "" {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Generation.ServiceToken})
	}

	genClient := generation.NewClient(cfg.Generation.BaseURL, tokens)
	store := versions.NewClient(cfg.Render.VersionAPIBase, tokens)
	resolver := render.NewResolver(cfg.Render.Servers)

	manager := preview.NewManager(preview.Deps{
		Generator: genClient,
		Store:     store,
		Renderer:  resolver,
		Cache:     cache,
	})

	scheduler := maintenance.NewScheduler(manager, 30*time.Minute)
	scheduler.Start()
	defer scheduler.Stop()

	r := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName: "umlcraft-backend",
		Version:     cfg.App.Version,
		DB:          pool,
		Auth:        authMW,
		Preview:     manager,
	})

	log.Printf("listening on :%s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
