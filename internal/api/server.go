// Package api wires the HTTP surface of the reconciliation engine: the bank
// webhook, QR issuance, manual verification and the operator triage
// endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homestay-payments/reconciliation/internal/api/handler"
	"github.com/homestay-payments/reconciliation/internal/config"
	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/unmatched"
)

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger // For structured logging
	httpServer *http.Server // Underlying HTTP server
	httpRouter *gin.Engine  // Gin router instance
}

// NewServer creates and configures a new HTTP server with the given services
func NewServer(
	log *slog.Logger,
	cfg *config.Config,
	txMatcher handler.TransactionMatcher,
	completer handler.PaymentCompleter,
	issuer handler.QRIssuer,
	verifier handler.ManualVerifier,
	stats handler.StatsProvider,
	reservations reservation.Repository,
	unmatchedRepo unmatched.Repository,
) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	webhookHandler := handler.NewWebhookHandler(log, cfg.Webhook.Secret, txMatcher, completer, reservations, unmatchedRepo)
	paymentHandler := handler.NewPaymentHandler(log, issuer, verifier, stats)
	unmatchedHandler := handler.NewUnmatchedHandler(log, unmatchedRepo)

	setupRouter(log, httpRouter, webhookHandler, paymentHandler, unmatchedHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server with a timeout
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.httpServer.WriteTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}

	return nil
}
