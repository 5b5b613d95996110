package handler

import (
	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/pkg/middleware"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig wires the handlers into one gin engine
type RouterConfig struct {
	Health      *HealthHandler
	SeatLocks   *SeatLockHandler
	Bookings    *BookingHandler
	SeatStream  *SeatStreamHandler
	Auth        *middleware.AuthConfig
	Idempotency *middleware.IdempotencyConfig
	Metrics     *metrics.Metrics
	// Tracing starts a server span per request
	Tracing bool
}

// NewRouter builds the HTTP routes of the booking service
func NewRouter(cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing {
		router.Use(telemetry.TracingMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(cfg.Metrics.HTTPMiddleware())

	router.GET("/health", cfg.Health.Health)
	router.GET("/ready", cfg.Health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.OwnerAuth(cfg.Auth))

	writes := []gin.HandlerFunc{}
	if cfg.Idempotency != nil && cfg.Idempotency.Store != nil {
		writes = append(writes, middleware.Idempotency(cfg.Idempotency))
	}

	seatLocks := v1.Group("/seat-locks")
	{
		seatLocks.POST("", cfg.SeatLocks.Lock)
		seatLocks.DELETE("", cfg.SeatLocks.Unlock)
		seatLocks.POST("/extend", cfg.SeatLocks.Extend)
	}

	bookings := v1.Group("/bookings")
	{
		bookings.POST("", append(writes, cfg.Bookings.CreateBooking)...)
		bookings.GET("/:id", cfg.Bookings.GetBooking)
		bookings.POST("/:id/finalize", append(writes, cfg.Bookings.FinalizeBooking)...)
		bookings.POST("/:id/cancel", append(writes, cfg.Bookings.CancelBooking)...)
	}

	v1.GET("/showtimes/:showtimeId/seats/stream", cfg.SeatStream.Stream)

	return router
}
