// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/SyedDaiam9101/classifier-service/internal/cache"
	"github.com/SyedDaiam9101/classifier-service/internal/config"
	"github.com/SyedDaiam9101/classifier-service/internal/handler"
	"github.com/SyedDaiam9101/classifier-service/internal/history"
	"github.com/SyedDaiam9101/classifier-service/internal/inference"
	"github.com/SyedDaiam9101/classifier-service/internal/logging"
	"github.com/SyedDaiam9101/classifier-service/internal/metrics"
	"github.com/SyedDaiam9101/classifier-service/internal/predictor"
	"github.com/SyedDaiam9101/classifier-service/internal/predlog"
	"github.com/SyedDaiam9101/classifier-service/internal/profile"
	"github.com/SyedDaiam9101/classifier-service/internal/service"
	"github.com/SyedDaiam9101/classifier-service/internal/telemetry"
)

const serviceName = "classifier-service"

func main() {
	// Parse command-line flags
	port := flag.Int("port", 0, "HTTP server port (default: 8000)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC server port (default: disabled)")
	profileName := flag.String("profile", "", "Dataset profile: mnist, cats-dogs, cats-dogs-128")
	modelPath := flag.String("model", "", "Path to ONNX model file (default: the profile's model)")
	redisAddr := flag.String("redis", "", "Redis address for the prediction cache (optional)")
	historyDB := flag.String("history-db", "", "SQLite file for prediction history (optional)")
	logPath := flag.String("log-path", "", "Prediction log path (default: logs/predictions.jsonl)")
	configFile := flag.String("config", "", "Path to config file (optional)")
	useMock := flag.Bool("mock", false, "Use mock inference engine (for testing)")
	flag.Parse()

	overrides := map[string]any{}
	if *port > 0 {
		overrides["port"] = *port
	}
	if *grpcPort > 0 {
		overrides["grpc_port"] = *grpcPort
	}
	if *profileName != "" {
		overrides["profile"] = *profileName
	}
	if *modelPath != "" {
		overrides["model_path"] = *modelPath
	}
	if *redisAddr != "" {
		overrides["redis"] = *redisAddr
	}
	if *historyDB != "" {
		overrides["history_db"] = *historyDB
	}
	if *logPath != "" {
		overrides["log_path"] = *logPath
	}
	if *useMock {
		overrides["use_mock"] = true
	}

	cfg, err := config.Load(*configFile, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server exited", "error", err)
	}
	log.Info("server shutdown complete")
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	prof, err := profile.Lookup(cfg.Profile)
	if err != nil {
		return err
	}

	log.Infow("starting "+serviceName,
		"profile", prof.Name,
		"port", cfg.Port,
		"grpc_port", cfg.GRPCPort,
		"model", cfg.ModelPath,
		"mock", cfg.UseMock,
		"otel", cfg.OTELEnabled,
	)

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = telemetry.InitTracer(serviceName, service.Version, cfg.OTELEndpoint, log)
		if err != nil {
			log.Warnw("failed to initialize tracer", "error", err)
		} else {
			log.Infow("OpenTelemetry tracing enabled", "endpoint", cfg.OTELEndpoint)
		}
	}

	model := loadModel(cfg, prof, log)
	defer model.Close()

	var classifier predictor.Classifier = predictor.New(model, prof)

	// Redis cache (optional)
	if cfg.Redis != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		cacheClient, err := cache.New(ctx, cfg.Redis, cfg.CacheTTL)
		cancel()
		if err != nil {
			log.Warnw("failed to connect to Redis, continuing without cache", "addr", cfg.Redis, "error", err)
		} else {
			defer cacheClient.Close()
			classifier = predictor.Cached(classifier, cacheClient, prof.Name, log)
			log.Infow("Redis cache connected", "addr", cfg.Redis, "ttl", cfg.CacheTTL)
		}
	}

	// Prediction history (optional)
	var store service.HistoryStore
	if cfg.HistoryDB != "" {
		db, err := openHistory(cfg.HistoryDB)
		if err != nil {
			log.Warnw("failed to open prediction history, continuing without it", "path", cfg.HistoryDB, "error", err)
		} else {
			defer db.Close()
			store = db
			log.Infow("prediction history enabled", "path", cfg.HistoryDB)
		}
	}

	svc := service.New(service.Options{
		Profile:    prof,
		Model:      model,
		Classifier: classifier,
		Log:        predlog.NewLogger(cfg.LogPath),
		History:    store,
		Logger:     log,
	})

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: handler.New(svc, log).Router(handler.RouterOptions{
			MaxBodyBytes:   cfg.MaxBodyBytes,
			RequestTimeout: cfg.RequestTimeout,
			CORSOrigins:    cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Infow("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var (
		grpcServer   *grpc.Server
		healthServer *health.Server
	)
	if cfg.GRPCPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.GRPCPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		grpcServer, healthServer = handler.NewGRPCServer(svc, log, handler.GRPCOptions{Tracing: cfg.OTELEnabled})
		go func() {
			log.Infow("gRPC server listening", "addr", addr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	log.Infof("%s is ready to accept requests", serviceName)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		log.Infow("received signal, shutting down gracefully", "signal", sig.String())
	case serveErr = <-errCh:
		log.Errorw("server failed, shutting down", "error", serveErr)
	}

	if healthServer != nil {
		handler.SetServing(healthServer, false)
	}
	metrics.SetModelLoaded(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcServer.Stop()
		}
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warnw("HTTP server shutdown", "error", err)
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(ctx); err != nil {
			log.Warnw("tracer shutdown", "error", err)
		}
	}
	return serveErr
}

// loadModel never aborts startup: a missing or broken artifact leaves the
// service running in degraded mode.
func loadModel(cfg *config.Config, prof profile.DatasetProfile, log *zap.SugaredLogger) *inference.Model {
	if cfg.UseMock {
		log.Info("using mock inference engine")
		return inference.NewLoadedModel("mock", inference.NewMock(prof.OutputSize()))
	}

	log.Infow("loading ONNX model", "path", cfg.ModelPath, "device", cfg.Device)
	model, err := inference.Load(inference.LoadOptions{
		Path:   cfg.ModelPath,
		Device: inference.Device(cfg.Device),
		Factory: inference.ONNXFactory(inference.ONNXOptions{
			InputName:   cfg.ModelInputName,
			OutputName:  cfg.ModelOutputName,
			OutputDim:   int64(prof.OutputSize()),
			LibraryPath: cfg.ONNXLibrary,
			Device:      inference.Device(cfg.Device),
		}),
	})
	if err != nil {
		var notFound *inference.ModelNotFoundError
		if errors.As(err, &notFound) {
			log.Warnw("model file not found, serving in degraded mode", "path", notFound.Path)
		} else {
			log.Errorw("failed to load model, serving in degraded mode", "error", err)
		}
		return model
	}
	log.Infow("ONNX model loaded successfully", "path", model.Path(), "device", model.Device(), "size_bytes", model.SizeBytes())
	return model
}

func openHistory(path string) (*history.SQLiteStore, error) {
	db, err := history.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
