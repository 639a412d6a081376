package terminalapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/terminal_sync/middlewares"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBasePath     = "/terminal-api"
	DefaultStoreTimeout = 10 * time.Second
)

type RouterOptions struct {
	Store        Store
	Logger       *logrus.Logger
	BasePath     string
	StoreTimeout time.Duration
	PublicURL    string
	// AllowOrigins restricts CORS on non-preflight requests. Empty allows all.
	AllowOrigins []string
	Locker       SyncLocker
	Audit        SyncAuditSink
	Now          func() time.Time
}

// NewRouter builds the terminal API. Unknown paths answer 404 and wrong verbs
// 405 without a credential; the terminal routes require one.
func NewRouter(opts RouterOptions) *gin.Engine {
	if opts.BasePath == "" {
		opts.BasePath = DefaultBasePath
	}
	opts.BasePath = "/" + strings.Trim(opts.BasePath, "/")
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	h := &Handlers{
		Store:        opts.Store,
		Logger:       opts.Logger,
		StoreTimeout: opts.StoreTimeout,
		PublicURL:    opts.PublicURL,
		Locker:       opts.Locker,
		Audit:        opts.Audit,
		Now:          opts.Now,
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.AllowOrigins
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationHeader)

	r.Use(middlewares.CorrelationId())
	r.Use(middlewares.Preflight())
	r.Use(cors.New(corsConfig))
	r.Use(middlewares.RequestLogger(opts.Logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group(opts.BasePath, middlewares.TerminalAuth(opts.Store, opts.StoreTimeout, opts.Logger))
	api.POST("/process", h.ProcessTransaction())
	api.POST("/sync", h.SyncTransactions())
	api.POST("/status", h.UpdateStatus())
	api.GET("/config", h.GetConfig())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"success": false, "error": "method not allowed"})
	})
	return r
}
