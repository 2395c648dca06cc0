package v1

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"carboniq/farm-portal/farm-portal-backend/internal/auth"
	"carboniq/farm-portal/farm-portal-backend/internal/config"
	"carboniq/farm-portal/farm-portal-backend/internal/farms"
	"carboniq/farm-portal/farm-portal-backend/internal/marketplace"
	"carboniq/farm-portal/farm-portal-backend/internal/notifications"
	"carboniq/farm-portal/farm-portal-backend/internal/notifications/websocket"
	"carboniq/farm-portal/farm-portal-backend/internal/outbox"
	"carboniq/farm-portal/farm-portal-backend/internal/verification"
	"carboniq/farm-portal/farm-portal-backend/pkg/awsutil"
	"carboniq/farm-portal/farm-portal-backend/pkg/pdf"
	"carboniq/farm-portal/farm-portal-backend/pkg/security"
	"carboniq/farm-portal/farm-portal-backend/pkg/storage"
)

// Portal holds every wired dependency of the farm portal
type Portal struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	SQL      *sqlx.DB
	Registry *prometheus.Registry

	Signer      *security.Signer
	Engine      *verification.Engine
	FarmRepo    farms.Repository
	Auth        auth.Service
	Farms       farms.Service
	Marketplace marketplace.Service
	Notifier    notifications.Service
	WebSocket   *websocket.Manager

	marketCache   *marketplace.Cache
	authHandler   *auth.Handler
	farmHandler   *farms.Handler
	marketHandler *marketplace.Handler
	notifHandler  *notifications.Handler
}

// NewLogger builds the process logger from the logging section
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// OpenDatabase connects gorm and shares its pool with sqlx
func OpenDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, *sqlx.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	if cfg.AutoMigrate {
		models := append([]interface{}{&auth.User{}, &notifications.SentNotification{}}, farms.Models()...)
		if err := db.AutoMigrate(models...); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database migrated", zap.Int("tables", len(models)))
	}

	return db, sqlx.NewDb(sqlDB, "postgres"), nil
}

// Setup wires repositories, services and handlers
func Setup(ctx context.Context, cfg *config.Config, db *gorm.DB, sqlDB *sqlx.DB, logger *zap.Logger) (*Portal, error) {
	p := &Portal{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		SQL:      sqlDB,
		Registry: prometheus.NewRegistry(),
		Signer:   security.NewSigner(cfg.Security.JWTSecret, cfg.Security.Issuer),
	}
	p.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	seed := cfg.Verification.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	p.Engine = verification.NewEngine(
		verification.WithRandomSource(verification.NewLockedSource(seed)),
		verification.WithDelay(cfg.Verification.Delay),
		verification.WithLogger(logger.Named("verification")),
		verification.WithMetrics(verification.NewMetrics(p.Registry)),
	)

	p.Auth = auth.NewService(auth.NewRepository(db), p.Signer, cfg.Security.TokenTTL, logger.Named("auth"))

	var index marketplace.SearchIndex
	if cfg.Search.Enabled {
		idx, err := marketplace.NewElasticIndex(cfg.Search.Addresses, cfg.Search.Username, cfg.Search.Password, cfg.Search.Index)
		if err != nil {
			return nil, err
		}
		index = idx
	}
	p.marketCache = marketplace.NewCache(cfg.Marketplace.CacheTTL)
	p.Marketplace = marketplace.NewService(marketplace.NewRepository(sqlDB), p.marketCache, index, logger.Named("marketplace"))

	notifOpts := notifications.Options{
		Repo:   notifications.NewRepository(db),
		Users:  p.Auth,
		Logger: logger.Named("notifications"),
	}
	if cfg.Notifications.EmailEnabled || cfg.Notifications.SMSEnabled {
		awsCfg, err := awsutil.LoadConfig(ctx, awsutil.Options{Region: cfg.Notifications.Region})
		if err != nil {
			return nil, err
		}
		if cfg.Notifications.EmailEnabled {
			notifOpts.Email = notifications.NewEmailChannel(awsCfg, cfg.Notifications.EmailFrom)
		}
		if cfg.Notifications.SMSEnabled {
			notifOpts.SMS = notifications.NewSMSChannel(awsCfg)
		}
	}
	p.WebSocket = websocket.NewManager(logger.Named("websocket"), nil)
	notifOpts.Pusher = p.WebSocket
	p.Notifier = notifications.NewService(notifOpts)

	var objects storage.S3Client
	if cfg.Storage.Enabled {
		awsCfg, err := awsutil.LoadConfig(ctx, awsutil.Options{
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Endpoint:        cfg.Storage.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		objects = storage.NewS3Client(awsCfg, cfg.Storage.Endpoint)
	}

	p.FarmRepo = farms.NewRepository(db)
	p.Farms = farms.NewService(farms.Dependencies{
		Repo:         p.FarmRepo,
		Engine:       p.Engine,
		Storage:      objects,
		Bucket:       cfg.Storage.Bucket,
		PresignTTL:   cfg.Storage.PresignTTL,
		Certificates: pdf.NewGenerator(),
		Signer:       p.Signer,
		Users:        p.Auth,
		Listeners:    []farms.ResultListener{p.Marketplace, p.Notifier},
		Logger:       logger.Named("farms"),
		SyncOnCreate: cfg.Verification.SyncOnCreate,
		InlineLease:  cfg.Worker.ExecutionTimeout,
	})

	p.authHandler = auth.NewHandler(p.Auth, logger)
	p.farmHandler = farms.NewHandler(p.Farms, logger)
	p.marketHandler = marketplace.NewHandler(p.Marketplace, logger)
	p.notifHandler = notifications.NewHandler(p.Notifier, p.WebSocket, logger)

	return p, nil
}

// NewWorker builds the outbox worker and its sweeper on the portal's farm service
func (p *Portal) NewWorker() (*outbox.Worker, *outbox.Sweeper, error) {
	wc := p.Config.Worker
	worker := outbox.NewWorker(p.FarmRepo, p.Farms, p.Logger.Named("outbox"), outbox.Config{
		PollInterval:     wc.PollInterval,
		BatchSize:        wc.BatchSize,
		MaxConcurrent:    wc.MaxConcurrent,
		MaxAttempts:      wc.MaxAttempts,
		RetryDelay:       wc.RetryDelay,
		MaxRetryDelay:    outbox.DefaultConfig().MaxRetryDelay,
		ExecutionTimeout: wc.ExecutionTimeout,
	}, p.Registry)

	sweeper, err := outbox.NewSweeper(p.FarmRepo, wc.SweepSchedule, wc.StaleAfter, p.Logger.Named("sweeper"))
	if err != nil {
		return nil, nil, err
	}
	return worker, sweeper, nil
}

// Router builds the gin engine with every route mounted
func (p *Portal) Router() *gin.Engine {
	if p.Config.Server.Mode != "" {
		gin.SetMode(p.Config.Server.Mode)
	}
	router := gin.New()
	router.Use(requestLogger(gin.DefaultWriter), gin.Recovery(), corsMiddleware())

	auth.RegisterRoutes(router, p.authHandler)
	p.notifHandler.RegisterWebSocket(router, auth.RequireSocketAuth(p.Auth))

	api := router.Group("/api/v1")
	{
		p.marketHandler.RegisterRoutes(api)
		p.farmHandler.RegisterPublicRoutes(api)

		private := api.Group("", auth.RequireAuth(p.Auth))
		p.farmHandler.RegisterRoutes(private)
		p.notifHandler.RegisterRoutes(private)
	}

	router.GET("/health", p.health)
	router.GET("/metrics", gin.WrapH(p.MetricsHandler()))

	return router
}

// MetricsHandler serves the portal registry
func (p *Portal) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{Registry: p.Registry})
}

func (p *Portal) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if err := p.SQL.PingContext(ctx); err != nil {
		p.Logger.Warn("Database ping failed", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"timestamp":   time.Now(),
		"connections": p.WebSocket.GetConnectionCount(),
		"cached":      p.marketCache.Size(),
	})
}

// requestLogger is gin's access log with session tokens masked in query strings
func requestLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: out,
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
				param.TimeStamp.Format("2006/01/02 - 15:04:05"),
				param.StatusCode,
				param.Latency,
				param.ClientIP,
				param.Method,
				redactToken(param.Path),
				param.ErrorMessage,
			)
		},
	})
}

func redactToken(path string) string {
	base, rawQuery, found := strings.Cut(path, "?")
	if !found {
		return path
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return base + "?[unparsable query]"
	}
	if !query.Has("token") {
		return path
	}
	query.Set("token", "REDACTED")
	return base + "?" + query.Encode()
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Close releases background resources owned by the portal
func (p *Portal) Close() {
	p.Farms.Close()
	p.WebSocket.Close()
	p.marketCache.Close()
	if sqlDB, err := p.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
