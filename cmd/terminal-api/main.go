package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/terminalapi"
	"github.com/mmdatafocus/terminal_sync/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := config.EnvString("TERMINAL_API_PORT", config.EnvString("PORT", defaultPort))
	logger := config.GetLogger()
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen before the DB is up; requests get 503 until the router is ready.
	var router atomic.Pointer[gin.Engine]
	srv := &http.Server{
		Addr: ":" + port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			engine := router.Load()
			if engine == nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			engine.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(sigCtx)

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !config.EnvBool("SKIP_MIGRATIONS", false) {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	opts := terminalapi.RouterOptions{
		Store:        models.NewStore(db),
		Logger:       logger,
		BasePath:     config.EnvString("TERMINAL_API_BASE_PATH", terminalapi.DefaultBasePath),
		StoreTimeout: config.EnvDuration("TERMINAL_API_STORE_TIMEOUT", terminalapi.DefaultStoreTimeout),
		PublicURL:    config.EnvString("TERMINAL_API_PUBLIC_URL", ""),
		AllowOrigins: splitAndTrim(config.EnvString("CORS_ALLOWED_ORIGINS", "")),
	}
	if locker := config.GetRedisLock(); locker != nil {
		opts.Locker = &terminalapi.RedisSyncLocker{
			Locker: locker,
			TTL:    config.EnvDuration("TERMINAL_SYNC_LOCK_TTL", 2*time.Minute),
			Wait:   config.EnvDuration("TERMINAL_SYNC_LOCK_WAIT", 5*time.Second),
		}
	}
	if config.SyncAuditEnabled() {
		client, err := config.GetStorageClient(sigCtx)
		if err != nil {
			config.LogError(logger, "main", "main", "GetStorageClient", nil, err)
		} else {
			defer client.Close()
			opts.Audit = &terminalapi.GCSAuditSink{Client: client, Bucket: config.EnvString("SYNC_AUDIT_BUCKET", "")}
		}
	}
	router.Store(terminalapi.NewRouter(opts))
	logger.WithFields(logrus.Fields{"port": port, "base_path": opts.BasePath}).Info("terminal api ready")

	if config.TransactionEventsEnabled() {
		dispatcher := workflow.NewOutboxDispatcher(db, logger)
		go dispatcher.Run(sigCtx)
	}

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
