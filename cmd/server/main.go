package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/homestay-payments/reconciliation/internal/api"
	"github.com/homestay-payments/reconciliation/internal/config"
	mongodata "github.com/homestay-payments/reconciliation/internal/data/mongo"
	"github.com/homestay-payments/reconciliation/internal/data/postgres"
	"github.com/homestay-payments/reconciliation/internal/logger"
	"github.com/homestay-payments/reconciliation/internal/notification"
	"github.com/homestay-payments/reconciliation/internal/platform/gateway"
	"github.com/homestay-payments/reconciliation/internal/platform/messaging/producers"
	"github.com/homestay-payments/reconciliation/internal/platform/persistence"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/manual"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/matcher"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/orchestrator"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/poller"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/qr"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("server")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producer for payment-completed notifications
	paymentEventProducer, err := producers.NewPaymentEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize payment event producer", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	reservationRepo := postgres.NewReservationRepository(log, postgresDB)
	unmatchedRepo, err := mongodata.NewUnmatchedRepository(appCtx, log, mongoDB.Database())
	if err != nil {
		log.Error("Failed to initialize unmatched transaction repository", "error", err)
		os.Exit(1)
	}

	// Initialize the reconciliation core
	gatewayClient := gateway.NewClient(log, &cfg.Gateway)
	notifier := notification.NewKafkaNotifier(log, paymentEventProducer)
	txMatcher := matcher.NewMatcher(log, reservationRepo, &cfg.Payment)
	paymentOrchestrator := orchestrator.NewOrchestrator(log, postgresDB, reservationRepo, notifier)
	qrIssuer := qr.NewIssuer(log, reservationRepo, qr.NewHTTPRenderer(log, &cfg.QRRenderer), cfg.Settlement, &cfg.Payment)
	manualService := manual.NewService(log, reservationRepo, gatewayClient, paymentOrchestrator, &cfg.Payment)
	reconciliationPoller := poller.NewPoller(log, gatewayClient, txMatcher, paymentOrchestrator, reservationRepo, unmatchedRepo, &cfg.Poller, &cfg.Payment)

	// Initialize REST server
	server := api.NewServer(log, cfg, txMatcher, paymentOrchestrator, qrIssuer, manualService, reconciliationPoller, reservationRepo, unmatchedRepo)
	log.Info("REST server initialized")

	// Start the reconciliation poller in the background
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		reconciliationPoller.Start(appCtx)
	}()

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context; this stops the poller
	cancelAppCtx()
	<-pollerDone

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	if err = paymentEventProducer.Close(); err != nil {
		log.Error("Error closing payment event producer", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
