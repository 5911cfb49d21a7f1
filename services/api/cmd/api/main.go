package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/pouyahbb/polaris/internal/ratelimit"
	"github.com/pouyahbb/polaris/internal/usertoken"
	"github.com/pouyahbb/polaris/internal/util"
	"github.com/pouyahbb/polaris/pkg/events"
	"github.com/pouyahbb/polaris/pkg/storage"
	"github.com/pouyahbb/polaris/services/api/app"
	"github.com/pouyahbb/polaris/services/api/internal/config"
	"github.com/pouyahbb/polaris/services/api/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "api")

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	bus, err := events.NewRabbitBus(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect rabbitmq: %v", err)
	}
	defer bus.Close()

	messageWindow, err := config.ParseMessageWindow(cfg.MessageWindow)
	if err != nil {
		log.Fatalf("failed to parse message window: %v", err)
	}
	messageLimit := cfg.MessageLimit
	if messageLimit <= 0 {
		messageLimit = 20
	}
	limiter, err := ratelimit.New(cfg.RedisAddr, cfg.RedisPassword, "polaris:ratelimit:messages", messageLimit, messageWindow)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Minio: storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		},
		Bus: bus,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		InternalToken:  cfg.InternalToken,
		Limiter:        limiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
