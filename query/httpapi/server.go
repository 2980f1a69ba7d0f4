package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	goAudit "github.com/MrEthical07/goAudit"
	"github.com/MrEthical07/goAudit/jwt"
	"github.com/MrEthical07/goAudit/query"
	"github.com/MrEthical07/goAudit/store"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// HealthReporter is satisfied by *goAudit.Trail.
type HealthReporter interface {
	Health() goAudit.Health
}

// Searcher is satisfied by *query.Adapter.
type Searcher interface {
	Search(ctx context.Context, f query.Filter, r query.TimeRange, limit int) (query.Result, error)
}

// Options wires the router. Events and Tokens must both be set for
// /v1/events to be mounted; Metrics is optional.
type Options struct {
	Health       HealthReporter
	Events       Searcher
	Tokens       TokenParser
	Metrics      http.Handler
	Logger       *zap.Logger
	QueryTimeout time.Duration
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(opts.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		h := opts.Health.Health()
		status := http.StatusOK
		if h.Status == goAudit.HealthDown {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	})

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	if opts.Tokens != nil {
		v1 := r.Group("/v1")
		v1.GET("/health", RequireScope(opts.Tokens, jwt.ScopeHealth, opts.Logger), healthDetailHandler(opts))
		if opts.Events != nil {
			v1.GET("/events", RequireScope(opts.Tokens, jwt.ScopeRead, opts.Logger), eventsHandler(opts))
		}
	}

	return r
}

type metricsReporter interface {
	MetricsSnapshot() goAudit.MetricsSnapshot
}

type healthDetail struct {
	Health   goAudit.Health    `json:"health"`
	Counters map[string]uint64 `json:"counters,omitempty"`
}

// healthDetailHandler is the operator view: health plus every counter by name.
func healthDetailHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := healthDetail{Health: opts.Health.Health()}
		if mr, ok := opts.Health.(metricsReporter); ok {
			snap := mr.MetricsSnapshot()
			out.Counters = make(map[string]uint64, len(snap.Counters))
			for id, v := range snap.Counters {
				out.Counters[id.Name()] = v
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

type eventsResponse struct {
	Total  int             `json:"total"`
	Events []goAudit.Event `json:"events"`
}

func eventsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := query.Filter{
			Principal:     c.Query("principal"),
			Type:          goAudit.EventType(c.Query("type")),
			Action:        c.Query("action"),
			OriginAddress: c.Query("origin"),
		}

		var r query.TimeRange
		var err error
		if r.From, err = parseTime(c.Query("from")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		if r.To, err = parseTime(c.Query("to")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}

		limit := DefaultLimit
		if s := c.Query("limit"); s != "" {
			limit, err = strconv.Atoi(s)
			if err != nil || limit < 1 || limit > MaxLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(MaxLimit)})
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.QueryTimeout)
		defer cancel()

		res, err := opts.Events.Search(ctx, filter, r, limit)
		switch {
		case errors.Is(err, query.ErrInvalidRange):
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must not be after to"})
			return
		case errors.Is(err, store.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		case err != nil:
			opts.Logger.Error("audit query failed",
				zap.String("operator", Operator(c)),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}

		if res.Events == nil {
			res.Events = []goAudit.Event{}
		}
		c.JSON(http.StatusOK, eventsResponse{Total: res.Total, Events: res.Events})
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
