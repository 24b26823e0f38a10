// Package httpapi exposes ordergate over HTTP: the inFlow webhook, manual
// validation, report history, tracked errors and monitor control.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"ordergate/internal/core"
	"ordergate/internal/logger"
	"ordergate/internal/monitor"
	"ordergate/internal/tracker"
	"ordergate/pkg/domain"
)

const serviceName = "ordergate"

// Processor runs the validation pipeline for one order.
type Processor interface {
	Process(ctx context.Context, orderID string, alert bool) (core.Outcome, error)
	History(ctx context.Context, orderID string) ([]domain.Report, error)
}

// MonitorControl is the subset of the monitor the API drives.
type MonitorControl interface {
	TriggerAsync(ctx context.Context)
	Status() monitor.Status
}

// Deps carries the server's collaborators. Monitor and Metrics may be nil.
type Deps struct {
	Processor     Processor
	Tracker       *tracker.Tracker
	Monitor       MonitorControl
	Metrics       http.Handler
	WebhookSecret string
	GracePeriod   time.Duration
	// TriggerPerMinute limits POST /monitor/trigger; zero means unlimited.
	TriggerPerMinute float64
	Log              *logger.Logger
}

// Server routes requests to the pipeline.
type Server struct {
	deps    Deps
	router  *gin.Engine
	limiter *rate.Limiter
	log     *logger.Logger
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.GracePeriod <= 0 {
		deps.GracePeriod = tracker.DefaultGracePeriod
	}
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		deps:    deps,
		router:  router,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     deps.Log.WithComponent("http"),
	}
	if deps.TriggerPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(deps.TriggerPerMinute/60), 1)
	}
	router.Use(s.requestLog)

	router.GET("/", s.handleHealth)
	router.POST("/webhook/inflow", s.handleWebhook)
	router.GET("/validate/:order_id", s.handleValidate)
	router.GET("/history/:order_id", s.handleHistory)
	router.GET("/errors/pending", s.handlePending)

	mon := router.Group("/monitor")
	{
		mon.POST("/trigger", s.handleTrigger)
		mon.GET("/status", s.handleMonitorStatus)
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer wraps the router in an http.Server with the given timeouts.
func (s *Server) HTTPServer(addr string, read, write time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
	}
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start).String())
}
