package router

import (
	"time"

	"github.com/NomadCrew/nomad-crew-ledger/config"
	"github.com/NomadCrew/nomad-crew-ledger/handlers"
	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/NomadCrew/nomad-crew-ledger/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Dependencies struct holds all dependencies required for setting up routes.
type Dependencies struct {
	Config         *config.Config
	ExpenseHandler *handlers.ExpenseHandler
	HealthHandler  *handlers.HealthHandler
	RedisClient    redis.UniversalClient
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// SetupRouter configures and returns the main Gin engine with all routes defined.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.Default()
	if err := r.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil {
		logger.GetLogger().Warnw("Invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.SecurityHeadersMiddleware(deps.Config))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.GET("/health", deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	writeLimit := middleware.WriteRateLimiter(
		deps.RedisClient,
		deps.Config.RateLimit.WriteRequestsPerMinute,
		time.Duration(deps.Config.RateLimit.WindowSeconds)*time.Second,
	)

	v1 := r.Group("/v1")
	tripRoutes := v1.Group("/trips/:id")
	{
		expenseRoutes := tripRoutes.Group("/expenses")
		{
			expenseRoutes.POST("", writeLimit, deps.ExpenseHandler.RecordExpenseHandler)
			expenseRoutes.GET("", deps.ExpenseHandler.ListExpensesHandler)
			expenseRoutes.GET("/:expenseId", deps.ExpenseHandler.GetExpenseHandler)
			expenseRoutes.DELETE("/:expenseId", writeLimit, deps.ExpenseHandler.DeleteExpenseHandler)
			expenseRoutes.PATCH("/:expenseId/splits/:participantId", writeLimit, deps.ExpenseHandler.MarkSplitPaidHandler)
		}

		tripRoutes.GET("/balances", deps.ExpenseHandler.GetBalancesHandler)
		tripRoutes.GET("/settlements", deps.ExpenseHandler.GetSettlementPlanHandler)
	}

	return r
}
