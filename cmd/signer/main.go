package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/thresh-vault/signer/internal/audit"
	"github.com/thresh-vault/signer/internal/config"
	"github.com/thresh-vault/signer/internal/dkg"
	"github.com/thresh-vault/signer/internal/envelope"
	"github.com/thresh-vault/signer/internal/kms"
	"github.com/thresh-vault/signer/internal/server"
	"github.com/thresh-vault/signer/internal/signing"
)

func main() {
	port := flag.Int("port", 50051, "gRPC server port")
	storageDir := flag.String("storage", "./data/shares", "Directory for encrypted share storage (file backend only)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting threshold signer node",
		zap.String("node_id", cfg.NodeID),
		zap.Int("port", *port),
	)

	ctx := context.Background()

	provider, err := buildKMSProvider(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct kms provider", zap.Error(err))
	}

	shareStore, err := buildEnvelopeStore(ctx, cfg, *storageDir, provider, logger)
	if err != nil {
		logger.Fatal("failed to construct envelope store", zap.Error(err))
	}

	auditStore, err := buildAuditStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct audit store", zap.Error(err))
	}

	dkgCoordinator := dkg.NewCoordinator(dkg.NewScheme(logger), logger)
	signingCoordinator := signing.NewCoordinator(signing.NewScheme(logger), logger)

	healthServer := server.NewHealthServer(shareStore, auditStore, dkgCoordinator, signingCoordinator, logger)

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(loggingInterceptor(logger)),
	)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gRPC server listening", zap.Int("port", *port))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutting down gracefully...")
	grpcServer.GracefulStop()
	healthServer.Close()
	logger.Info("server stopped")
}

func buildKMSProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kms.Provider, error) {
	switch cfg.KMS.Provider {
	case "aws":
		return kms.NewAWSProvider(ctx, cfg.KMS.AWSKeyARN, cfg.KMS.AWSRegion, logger)
	default:
		if cfg.KMS.LocalKeyFile == "" {
			return nil, fmt.Errorf("kms.local_key_file is required for the local provider")
		}
		return kms.NewLocalProviderFromFile(cfg.KMS.LocalKeyFile, logger)
	}
}

func buildEnvelopeStore(ctx context.Context, cfg *config.Config, fileDir string, provider kms.Provider, logger *zap.Logger) (*envelope.Store, error) {
	if dsn := cfg.DB.DSN(); dsn != "" {
		logger.Info("using postgres envelope store")
		return envelope.NewPostgresStore(ctx, dsn, provider, logger)
	}
	logger.Info("using file envelope store", zap.String("path", fileDir))
	return envelope.NewFileStore(fileDir, provider, logger)
}

func buildAuditStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (audit.Store, error) {
	if dsn := cfg.DB.DSN(); dsn != "" {
		logger.Info("using postgres audit store")
		return audit.NewPostgresStore(ctx, dsn, logger)
	}
	logger.Warn("no database configured, using in-memory audit store (not durable across restarts)")
	return audit.NewInMemoryStore(), nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return resp, err
	}
}
