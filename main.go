package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"fadedreams/roadassist/auth"
	"fadedreams/roadassist/config"
	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/grpcsvc"
	"fadedreams/roadassist/handlers"
	"fadedreams/roadassist/kafka"
	"fadedreams/roadassist/logging"
	"fadedreams/roadassist/payments"
	"fadedreams/roadassist/registry"
	"fadedreams/roadassist/service"
)

const appName = "roadassist"

// initTracer initializes OpenTelemetry tracer
func initTracer(endpoint, serviceName string, logger *slog.Logger) (func(), error) {
	logger.Info("Initializing tracer", "otlp_endpoint", endpoint, "app", appName)

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithURLPath("/v1/traces"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	resources := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter, sdktrace.WithExportTimeout(5*time.Second))),
		sdktrace.WithResource(resources),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func() {
		logger.Info("Shutting down tracer provider", "app", appName)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err, "app", appName)
		}
	}, nil
}

// connectToMongoDB retries until the server answers a ping. With
// transactions enabled the replica set must also be initialized.
func connectToMongoDB(uri string, transactions bool, retries int, delay time.Duration, logger *slog.Logger) (*mongo.Client, error) {
	var client *mongo.Client
	var err error

	for i := range retries {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err = mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err == nil {
			err = client.Ping(ctx, nil)
			if err == nil && transactions {
				var result struct {
					Ok int `bson:"ok"`
				}
				err = client.Database("admin").RunCommand(ctx, bson.D{
					{Key: "replSetGetStatus", Value: 1},
				}).Decode(&result)
				if err == nil && result.Ok != 1 {
					err = errors.New("replica set not ready")
				}
			}
			if err == nil {
				cancel()
				logger.Info("Connected to MongoDB", "app", appName)
				return client, nil
			}
			_ = client.Disconnect(ctx)
		}
		cancel()
		logger.Error("Failed to connect to MongoDB", "attempt", i+1, "max_attempts", retries, "error", err, "app", appName)
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("failed to connect to MongoDB after %d retries: %w", retries, err)
}

// openStore returns the configured repository and a func that releases it
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("Using in-memory store, data is lost on restart", "app", appName)
		return domain.NewMemoryRepository(), func() {}, nil
	}

	client, err := connectToMongoDB(cfg.MongoURI, cfg.MongoTransactions, 5, 2*time.Second, logger)
	if err != nil {
		return nil, nil, err
	}
	repo := domain.NewMongoRepository(client, cfg.MongoDatabase, cfg.MongoTransactions)
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return repo, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.Error("Failed to disconnect from MongoDB", "error", err, "app", appName)
		}
	}, nil
}

func newGateway(cfg *config.Config, logger *slog.Logger) service.PaymentGateway {
	if cfg.PaymentGateway == config.GatewaySandbox {
		logger.Warn("Using sandbox payment gateway", "app", appName)
		return payments.NewSandbox(cfg.RazorpayKeySecret)
	}
	return payments.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayBaseURL, logger)
}

func main() {
	if err := run(); err != nil {
		slog.Error("roadassist exited", "error", err, "app", appName)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logFile, err := logging.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	logger.Info("Starting roadassist", "service", cfg.ServiceName, "store", cfg.StoreDriver, "gateway", cfg.PaymentGateway, "app", appName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelExporterEndpoint != "" {
		shutdown, err := initTracer(cfg.OTelExporterEndpoint, cfg.ServiceName, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}
	svc := service.NewService(repo, newGateway(cfg, logger), tokens, service.Config{
		Currency:   cfg.PaymentCurrency,
		BcryptCost: cfg.BcryptCost,
	}, logger)

	if cfg.AdminEmail != "" {
		if err := svc.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to seed admin: %w", err)
		}
	}

	if cfg.KafkaBootstrapServers != "" {
		producer, err := kafka.NewProducer(cfg.KafkaBootstrapServers, cfg.SchemaRegistryURL, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		processor := kafka.NewOutboxProcessor(repo, producer, cfg.OutboxInterval, logger)
		go func() {
			if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Outbox processor stopped", "error", err, "app", appName)
			}
		}()
	} else {
		logger.Warn("KAFKA_BOOTSTRAP_SERVERS not set, outbox events stay unpublished", "app", appName)
	}

	reconciler := service.NewReconciler(svc, cfg.ReconcileInterval, logger)
	go func() {
		if err := reconciler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Reconciler stopped", "error", err, "app", appName)
		}
	}()

	grpcServer := grpc.NewServer()
	healthServer := grpcsvc.NewHealthServer(repo, cfg.ServiceName, logger)
	healthServer.Register(grpcServer)
	go func() {
		if err := healthServer.Start(ctx, 10*time.Second); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("gRPC health checker stopped", "error", err, "app", appName)
		}
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	go func() {
		logger.Info("Starting gRPC server", "port", cfg.GRPCPort, "app", appName)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server failed", "error", err, "app", appName)
		}
	}()

	router := handlers.NewRouter(svc, repo, handlers.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", cfg.ServicePort, "app", appName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.ConsulAddress != "" {
		deregister, err := registry.Register(registry.Registration{
			ConsulAddress: cfg.ConsulAddress,
			ServiceName:   cfg.ServiceName,
			ServiceHost:   cfg.ServiceHost,
			Port:          cfg.ServicePort,
			GRPCPort:      cfg.GRPCPort,
		}, logger)
		if err != nil {
			logger.Error("Consul registration failed", "error", err, "app", appName)
		} else {
			defer deregister()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "app", appName)
	case err := <-serveErr:
		logger.Error("HTTP server failed", "error", err, "app", appName)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err, "app", appName)
	}
	grpcServer.GracefulStop()
	logger.Info("roadassist stopped", "app", appName)
	return nil
}
