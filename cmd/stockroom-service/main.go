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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/stockroom/stockroom-backend/internal/audit"
	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/internal/budget"
	"github.com/stockroom/stockroom-backend/internal/inventory/consumers"
	invevents "github.com/stockroom/stockroom-backend/internal/inventory/events"
	invhandler "github.com/stockroom/stockroom-backend/internal/inventory/handler"
	"github.com/stockroom/stockroom-backend/internal/inventory/repository"
	"github.com/stockroom/stockroom-backend/internal/inventory/service"
	"github.com/stockroom/stockroom-backend/internal/numbering"
	"github.com/stockroom/stockroom-backend/internal/requisition"
	reqevents "github.com/stockroom/stockroom-backend/internal/requisition/events"
	"github.com/stockroom/stockroom-backend/pkg/config"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/httputil"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/messaging"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

func main() {
	cfg, err := config.LoadWithValidation("stockroom-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("stockroom-service", cfg.Server.Environment)
	log.Info().Msg("starting Stockroom Service")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	stockPublisher, err := invevents.NewStockroomEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stockroom event publisher")
	}
	reqPublisher, err := reqevents.NewRequisitionEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create requisition event publisher")
	}

	// Repositories
	authzRepo := authz.NewRepository(db)
	itemRepo := repository.NewItemRepository(db)
	locationRepo := repository.NewLocationRepository(db)
	stockRepo := repository.NewStockRepository(db)
	issueRepo := repository.NewIssueRepository(db)
	userCacheRepo := repository.NewUserCacheRepository(db)
	auditRepo := audit.NewRepository(db)
	reqRepo := requisition.NewRepository(db)

	// Cross-cutting services
	checker := authz.NewChecker(authzRepo)
	auditor := audit.NewRecorder(auditRepo, log)
	numbers := numbering.NewGenerator(db)
	budgets := budget.NewTracker(db)

	// Domain services
	catalogService := service.NewCatalogService(itemRepo, locationRepo, checker, auditor, log)
	stockService := service.NewStockService(stockRepo, itemRepo, checker, auditor, stockPublisher, log)
	reqService := requisition.NewService(db, reqRepo, budgets, numbers, checker, auditor, reqPublisher, log)
	issueService := service.NewIssueService(db, issueRepo, stockRepo, itemRepo, reqService, numbers, checker, auditor, stockPublisher, log)
	dashboardService := service.NewDashboardService(itemRepo, issueRepo, reqRepo, checker, log)

	// Handlers
	itemHandler := invhandler.NewItemHandler(catalogService, log)
	locationHandler := invhandler.NewLocationHandler(catalogService, log)
	stockHandler := invhandler.NewStockHandler(stockService, log)
	issueHandler := invhandler.NewIssueHandler(issueService, log)
	dashboardHandler := invhandler.NewDashboardHandler(dashboardService, log)
	reqHandler := requisition.NewHandler(reqService, log)
	budgetHandler := budget.NewHandler(budgets, checker, log)
	auditHandler := audit.NewHandler(auditRepo, checker, log)

	// User cache consumer
	userConsumer, err := consumers.NewUserEventConsumer(rmq, userCacheRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create user event consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := userConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start user event consumer")
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(principal.Middleware(&cfg.JWT))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(authz.WithRequestCache(r.Context())))
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "stockroom-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", itemHandler.List)
			r.Post("/", itemHandler.Create)
			r.Get("/{id}", itemHandler.Get)
			r.Put("/{id}", itemHandler.Update)
			r.Put("/{id}/lifecycle", itemHandler.SetLifecycle)
			r.Get("/{itemID}/stock", stockHandler.ListByItem)
			r.Get("/{itemID}/movements", stockHandler.Movements)
		})

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", locationHandler.List)
			r.Post("/", locationHandler.Create)
			r.Get("/{id}", locationHandler.Get)
			r.Put("/{id}", locationHandler.Update)
			r.Delete("/{id}", locationHandler.Deactivate)
			r.Get("/{locationID}/stock", stockHandler.ListByLocation)
		})

		r.Route("/stock", func(r chi.Router) {
			r.Post("/adjust", stockHandler.Adjust)
			r.Post("/transfer", stockHandler.Transfer)
		})

		r.Route("/requisitions", func(r chi.Router) {
			r.Get("/", reqHandler.List)
			r.Post("/", reqHandler.Create)
			r.Get("/{id}", reqHandler.Get)
			r.Put("/{id}", reqHandler.Update)
			r.Post("/{id}/submit", reqHandler.Submit)
			r.Post("/{id}/approve", reqHandler.Approve)
			r.Post("/{id}/reject", reqHandler.Reject)
			r.Post("/{id}/cancel", reqHandler.Cancel)
			r.Post("/{id}/complete", reqHandler.Complete)
		})

		r.Route("/issues", func(r chi.Router) {
			r.Get("/", issueHandler.List)
			r.Post("/", issueHandler.Create)
			r.Get("/{id}", issueHandler.Get)
			r.Post("/{id}/acknowledge", issueHandler.Acknowledge)
		})

		r.Route("/returns", func(r chi.Router) {
			r.Get("/", issueHandler.ListReturns)
			r.Post("/", issueHandler.CreateReturn)
			r.Get("/{id}", issueHandler.GetReturn)
			r.Post("/{id}/review", issueHandler.ReviewReturn)
			r.Post("/{id}/receive", issueHandler.ReceiveReturn)
		})

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", budgetHandler.List)
			r.Post("/", budgetHandler.Create)
			r.Get("/{departmentID}", budgetHandler.Get)
			r.Get("/{departmentID}/utilization", budgetHandler.Utilization)
		})

		r.Get("/audit", auditHandler.List)
		r.Get("/dashboard/stats", dashboardHandler.Stats)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
