// api/routes/router.go
package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"stallbook/internal/bookings"
	"stallbook/internal/notifications"
	"stallbook/internal/shared/config"
	"stallbook/internal/shared/database"
	"stallbook/internal/shared/database/memstore"
	"stallbook/internal/shared/middleware"
	"stallbook/internal/stalls"
	"stallbook/pkg/cache"
	"stallbook/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Router holds all route dependencies
type Router struct {
	config    *config.Config
	db        *database.DB
	publisher notifications.Publisher

	stallService   stalls.Service
	bookingService bookings.Service
	cacheService   cache.Service

	jobStatus func() map[string]interface{}
}

// NewRouter creates a new router instance and wires the domain services
func NewRouter(cfg *config.Config, db *database.DB, publisher notifications.Publisher) *Router {
	r := &Router{
		config:    cfg,
		db:        db,
		publisher: publisher,
	}
	r.initServices()
	return r
}

// BookingService exposes the booking service to the background sweeper
func (r *Router) BookingService() bookings.Service {
	return r.bookingService
}

// SetJobStatus reports the background sweeper state on /status
func (r *Router) SetJobStatus(status func() map[string]interface{}) {
	r.jobStatus = status
}

func (r *Router) initServices() {
	var stallRepo stalls.Repository
	var bookingRepo bookings.Repository
	if r.config.UsesMemoryStore() || r.db.GetPostgreSQL() == nil {
		store := memstore.New()
		stallRepo = store.Stalls()
		bookingRepo = store.Bookings()
		if r.config.UsesMemoryStore() && r.config.Database.SeedMemory {
			created, err := stalls.Provision(context.Background(), stallRepo, stalls.DefaultLayouts)
			if err != nil {
				logger.GetDefault().Error("Failed to seed in-memory stalls", slog.Any("error", err))
			} else {
				logger.GetDefault().Info("Seeded in-memory stalls", slog.Int("count", created))
			}
		}
	} else {
		stallRepo = stalls.NewRepository(r.db.GetPostgreSQL())
		bookingRepo = bookings.NewRepository(r.db.GetPostgreSQL())
	}

	var publisher bookings.EventPublisher
	if r.publisher != nil {
		publisher = r.publisher
	}

	r.bookingService = bookings.NewService(
		bookingRepo,
		bookings.NewHoldPolicy(r.config.Booking.HoldDuration),
		publisher,
		bookings.WithSweepBatchSize(r.config.Booking.SweepBatchSize),
		bookings.WithInlineSweep(r.config.Booking.InlineSweep),
	)
	r.stallService = stalls.NewService(stallRepo, r.bookingService)

	// Inject cache dependency
	if redisClient := r.db.GetRedisClient(); redisClient != nil {
		r.cacheService = cache.NewService(redisClient)
		r.stallService.SetCacheService(r.cacheService)
	}
	r.bookingService.SetStallCache(r.stallService)
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check and basic info endpoints
	r.setupHealthRoutes(engine)

	// API routes
	api := engine.Group(r.config.GetAPIBasePath())
	{
		r.setupStallRoutes(api)
		r.setupBookingRoutes(api)
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{"database": "ok"}
		healthy := true

		if err := r.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
		if r.cacheService != nil {
			checks["cache"] = "ok"
			if err := r.cacheService.Ping(ctx); err != nil {
				checks["cache"] = err.Error()
				healthy = false
			}
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"checks":    checks,
				"timestamp": time.Now(),
				"service":   "stallbook-backend",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"checks":    checks,
			"timestamp": time.Now(),
			"service":   "stallbook-backend",
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		status := gin.H{
			"status":        "operational",
			"api_version":   r.config.APIVersion,
			"db_driver":     r.config.Database.Driver,
			"hold_duration": r.config.Booking.HoldDuration.String(),
			"timestamp":     time.Now(),
		}
		if r.jobStatus != nil {
			status["sweeper"] = r.jobStatus()
		}
		c.JSON(http.StatusOK, status)
	})
}

// setupStallRoutes configures stall browsing routes
func (r *Router) setupStallRoutes(rg *gin.RouterGroup) {
	stallController := stalls.NewController(r.stallService)
	stalls.SetupStallRoutes(rg, stallController)
}

// setupBookingRoutes configures reservation, payment and review routes
func (r *Router) setupBookingRoutes(rg *gin.RouterGroup) {
	bookingController := bookings.NewController(r.bookingService, bookings.UploadConfig{
		Path:    r.config.Upload.Path,
		MaxSize: r.config.Upload.MaxSize,
	})
	bookings.SetupBookingRoutes(rg, bookingController,
		middleware.JWTAuth(r.config.JWT.Secret),
		middleware.OptionalAuth(r.config.JWT.Secret),
	)
}
