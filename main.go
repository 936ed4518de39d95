package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/mammoscan/internal/auth"
	"github.com/example/mammoscan/internal/config"
	"github.com/example/mammoscan/internal/grpcclient"
	"github.com/example/mammoscan/internal/handlers"
	"github.com/example/mammoscan/internal/logging"
	"github.com/example/mammoscan/internal/mailer"
	"github.com/example/mammoscan/internal/otp"
	"github.com/example/mammoscan/internal/report"
	"github.com/example/mammoscan/internal/repository"
	"github.com/example/mammoscan/internal/usecase"
	"github.com/example/mammoscan/internal/whatsapp"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, cfg, logger)
	users := repository.NewUserRepository(db, logger)
	if err := users.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate users failed", zap.Error(err))
	}
	diagnoses := repository.NewDiagnosisRepository(db, logger)
	if err := diagnoses.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate diagnoses failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)

	classifierClient, conn, err := grpcclient.DialClassifier(ctx, cfg.ClassifierAddr, logger)
	if err != nil {
		logger.Fatal("failed to connect to classifier", zap.Error(err))
	}
	defer conn.Close()

	cache := usecase.NewRedisCache(redisClient)
	pending := otp.NewRedisStore(redisClient)
	smtpMailer := mailer.New(cfg.SMTP, logger)
	messenger := whatsapp.NewDispatcher(cfg.Twilio, cfg.PublicBaseURL, logger)
	renderer := report.NewRenderer(logger)
	tokens := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAudience, time.Hour)

	authUC := usecase.NewAuthUseCase(users, pending, smtpMailer, tokens, cfg.OTPTTL, logger)
	diagnosisUC := usecase.NewDiagnosisUseCase(diagnoses, cache, classifierClient, renderer, cfg.UploadsDir, cfg.ReportsDir, logger)

	if err := os.MkdirAll(cfg.ReportsDir, 0o755); err != nil {
		logger.Fatal("failed to create reports dir", zap.Error(err))
	}

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	r.Use(cors.Default())
	r.Static(usecase.ReportPublicPrefix, cfg.ReportsDir)

	handlers.RegisterRoutes(r, handlers.Deps{
		Auth:           authUC,
		Diagnosis:      diagnosisUC,
		Mailer:         smtpMailer,
		Messenger:      messenger,
		ReportsDir:     cfg.ReportsDir,
		AuthMiddleware: auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("mammoscan API listening", zap.String("addr", cfg.ListenAddr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
