// Package main is the entry point for the support router API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/omnidesk/support-router/internal/audit"
	"github.com/omnidesk/support-router/internal/bot"
	"github.com/omnidesk/support-router/internal/channel"
	"github.com/omnidesk/support-router/internal/config"
	"github.com/omnidesk/support-router/internal/handler"
	"github.com/omnidesk/support-router/internal/hub"
	"github.com/omnidesk/support-router/internal/llm"
	"github.com/omnidesk/support-router/internal/middleware"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/service"
	"github.com/omnidesk/support-router/internal/store"
	"github.com/omnidesk/support-router/pkg/logger"
	"github.com/omnidesk/support-router/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting support router")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-router", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	readiness := map[string]handler.ReadinessCheck{}

	// Stores
	var (
		conversations store.ConversationStore
		messages      store.MessageStore
		users         store.UserStore
	)
	switch cfg.StoreDriver {
	case "mongo":
		mongoStore, err := store.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Error("failed to connect to mongodb", zap.Error(err))
			os.Exit(1)
		}
		defer mongoStore.Close(context.Background())

		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			log.Error("failed to ensure indexes", zap.Error(err))
			os.Exit(1)
		}

		conversations = mongoStore.Conversations
		messages = mongoStore.Messages
		users = mongoStore.Users
		readiness["mongodb"] = mongoStore.Ping

	case "memory":
		conversations = store.NewMemoryConversationStore()
		messages = store.NewMemoryMessageStore()
		users = store.NewMemoryUserStore()
		log.Warn("using in-memory store, data will not survive restarts")

	default:
		log.Error("unknown store driver", zap.String("driver", cfg.StoreDriver))
		os.Exit(1)
	}

	// Audit trail over NATS JetStream. A nil trail records nothing.
	var trail *audit.Trail
	if cfg.NATSEnabled {
		natsClient, err := audit.Connect(ctx, audit.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		trail = audit.NewTrail(natsClient)
		if err := trail.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure audit stream", zap.Error(err))
			os.Exit(1)
		}
		readiness["nats"] = func(context.Context) error {
			if !natsClient.IsConnected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}
	}

	// LLM client for reply suggestions
	var llmClient llm.Client
	switch {
	case cfg.DefaultLLM == "openai" && cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	}
	if err != nil {
		log.Warn("failed to create LLM client, reply suggestions disabled", zap.Error(err))
		llmClient = nil
	}

	// Channel adapters. DevTransport logs instead of calling providers;
	// swap per adapter when real provider credentials are wired in.
	adapters := channel.NewRegistry()
	adapters.Register(channel.NewWhatsAppAdapter(channel.DevTransport))
	adapters.Register(channel.NewEmailAdapter(channel.DevTransport))
	adapters.Register(channel.NewWebChatAdapter(channel.DevTransport))

	// Core services
	broadcastHub := hub.New(users, log)
	botEngine := bot.NewEngine()

	manager := service.NewConversationManager(conversations, broadcastHub, botEngine, trail, cfg.PendingConversationTTL, log)
	coordinator := service.NewEscalationCoordinator(manager, broadcastHub, log)
	router := service.NewMessageRouter(
		messages, manager, adapters, botEngine, coordinator, broadcastHub, trail,
		cfg.BotEngagementWindow, cfg.DeliveryTimeout, log,
	)
	suggestions := service.NewSuggestionService(messages, manager, llmClient, log)

	manager.StartSweeper(ctx, cfg.SweepInterval)

	// Handlers
	healthHandler := handler.NewHealthHandler(readiness)
	conversationHandler := handler.NewConversationHandler(manager, log)
	messageHandler := handler.NewMessageHandler(router, suggestions, log)
	webhookHandler := handler.NewWebhookHandler(router, log)
	wsHandler := handler.NewWSHandler(broadcastHub, coordinator, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Inbound channel webhooks (provider-authenticated upstream)
	r.Post("/webhooks/{channel}", webhookHandler.Receive)

	// Websocket endpoint for agents and dashboards
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Get("/ws", wsHandler.Serve)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/claim", conversationHandler.Claim)
				r.Post("/release", conversationHandler.Release)
				r.Post("/end", conversationHandler.End)
				r.Post("/read", conversationHandler.MarkRead)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/suggest", messageHandler.Suggest)
			})
		})

		r.Delete("/messages/{id}", messageHandler.Delete)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))
			r.Post("/bot/reset/{senderId}", webhookHandler.ResetBot)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
