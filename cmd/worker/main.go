package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/pppoe-provisioning-worker/internal/config"
	"github.com/septivank/pppoe-provisioning-worker/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	loadEnv()

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideStore,
			ProvideQueries,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideRelay,
			ProvideDispatcher,
			ProvideDeviceProvider,
			ProvideLocker,
			ProvideValidator,
			ProvideImporter,
			service.NewProvisioningService,
			service.NewProfileService,
			service.NewCredentialService,
			service.NewDeviceTaskProcessor,
			ProvideHandler,
		),
		fx.Invoke(startWorker, startRelay, startHTTP),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tempLogger, _ := newLogger(&config.Config{ServiceName: "pppoe-provisioning-worker"})
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. A dependency (Database, RabbitMQ or Redis) is probably not reachable.")
		}
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}

// loadEnv loads the first .env found in the working directory, a bin/
// layout two levels up, or one of the two parent directories
func loadEnv() {
	candidates := []string{".env", "../../.env"}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		candidates = append(candidates,
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("Ignoring unreadable env file %s: %v\n", path, err)
			continue
		}
		absPath, _ := filepath.Abs(path)
		fmt.Printf("Loaded environment from: %s\n", absPath)
		return
	}
	fmt.Println("No .env file found, using system environment variables")
}
