package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"waste-track/tracking/tracking-backend/internal/audit"
	"waste-track/tracking/tracking-backend/internal/auth"
	"waste-track/tracking/tracking-backend/internal/config"
	"waste-track/tracking/tracking-backend/internal/events"
	"waste-track/tracking/tracking-backend/internal/export"
	"waste-track/tracking/tracking-backend/internal/live"
	"waste-track/tracking/tracking-backend/internal/sessions"
	"waste-track/tracking/tracking-backend/internal/shipments"
	"waste-track/tracking/tracking-backend/pkg/integrity"
	"waste-track/tracking/tracking-backend/pkg/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Logging)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	dbURL := cfg.Database.GetDatabaseURL()
	logger.Info("Connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.String("db", cfg.Database.DBName),
	)
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := shipments.Migrate(ctx, db); err != nil {
		logger.Fatal("Failed to migrate shipments schema", zap.Error(err))
	}

	gormDB, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		logger.Fatal("Failed to open audit store", zap.Error(err))
	}
	if err := audit.Migrate(gormDB); err != nil {
		logger.Fatal("Failed to migrate audit schema", zap.Error(err))
	}

	// Draft sessions
	var drafts shipments.SessionStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		store := sessions.NewRedisStore(client, cfg.Workflow.DraftTTL)
		if err := store.Ping(ctx); err != nil {
			logger.Fatal("Failed to reach redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		drafts = store
		logger.Info("Draft sessions stored in redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		store := sessions.NewMemoryStore(cfg.Workflow.DraftTTL)
		sweeper, err := sessions.NewSweeper(store, cfg.Workflow.SweepSchedule, logger)
		if err != nil {
			logger.Fatal("Invalid sweep schedule", zap.Error(err))
		}
		sweeper.Start()
		defer sweeper.Stop()
		drafts = store
		logger.Info("Draft sessions stored in memory", zap.Duration("ttl", cfg.Workflow.DraftTTL))
	}

	opts := shipments.ServiceOptions{
		Digester:    integrity.NewService(cfg.Security.KeyVersion),
		KeyMaterial: cfg.Security.SignatureKeyMaterial,
		Codes: shipments.StaticCodeIssuer{Codes: shipments.ExpectedCodes{
			Producer:    cfg.Validation.ProducerCode,
			Transporter: cfg.Validation.TransporterCode,
		}},
		Audit:           audit.NewLog(gormDB),
		LocationTimeout: cfg.Workflow.LocationTimeout,
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer publisher.Close()
		opts.Events = publisher
		logger.Info("Publishing shipment events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Storage.Bucket != "" {
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Region:          cfg.Storage.Region,
			Bucket:          cfg.Storage.Bucket,
			Prefix:          cfg.Storage.Prefix,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		})
		if err != nil {
			logger.Fatal("Failed to configure signature archive", zap.Error(err))
		}
		opts.Archive = storage.NewS3Archive(client, cfg.Storage.Bucket, cfg.Storage.Prefix)
		logger.Info("Archiving signatures", zap.String("bucket", cfg.Storage.Bucket))
	}

	shipmentService := shipments.NewService(shipments.NewRepository(db), drafts, opts, logger)
	shipmentHandler := shipments.NewHandler(shipmentService, logger)
	exportHandler := export.NewHandler(shipmentService, export.NewReceiptGenerator(), logger)

	// Live shipment list
	feed := live.NewFeed(logger)
	listener, err := live.NewListener(dbURL, logger)
	if err != nil {
		logger.Fatal("Failed to listen for shipment changes", zap.Error(err))
	}
	defer listener.Close()
	go feed.Run(ctx, listener.Notify)
	liveHandler := live.NewHandler(feed, shipmentService, cfg.Security.AllowedOrigins, logger)

	tokens := auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenTTL)

	// Setup Router
	if strings.EqualFold(cfg.Logging.Format, "json") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors(cfg.Security.AllowedOrigins))

	public := router.Group("/api/v1")
	protected := router.Group("/api/v1")
	protected.Use(auth.Middleware(tokens, logger))
	{
		auth.RegisterRoutes(public, protected, auth.NewHandler())
		shipmentHandler.RegisterRoutes(protected)
		exportHandler.RegisterRoutes(protected)
		liveHandler.RegisterRoutes(protected)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"database": "ok"}
		if err := db.PingContext(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		}
		c.JSON(status, gin.H{
			"status":    http.StatusText(status),
			"checks":    checks,
			"timestamp": time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func newLogger(cfg config.LoggingConfig) *zap.Logger {
	var zcfg zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// cors allows the configured origins, or any origin when none are configured
func cors(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowOrigin := "*"
		if len(allowed) > 0 {
			allowOrigin = ""
			for _, o := range allowed {
				if o == origin {
					allowOrigin = origin
					break
				}
			}
		}
		if allowOrigin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
