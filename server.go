package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/middlewares"
	"bitbucket.org/mmdatafocus/orders_backend/models"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// RateLimiter is a fixed-window Redis counter keyed by client IP.
// Separate instances with distinct prefixes give routes their own buckets:
// /orders/sync carries its own, higher ceiling, because a single device
// reconnect can legitimately submit hundreds of queued orders at once.
type RateLimiter struct {
	client    *redis.Client
	keyPrefix string
	limit     int64
	window    time.Duration
}

func NewRateLimiter(client *redis.Client, keyPrefix string, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := rl.keyPrefix + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// requestUser resolves the session's user and attaches business/user scope to
// the request context. Handlers get back the enriched context so the tenant
// guard and audit stamping see the right identity.
func requestUser(c *gin.Context) (*models.User, context.Context, error) {
	ctx := c.Request.Context()
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return nil, ctx, errors.New("unauthorized")
	}
	user, err := models.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, ctx, errors.New("unauthorized")
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, ctx, errors.New("unauthorized")
	}
	ctx = utils.SetBusinessIdInContext(ctx, user.BusinessId)
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	if user.Role == models.UserRoleAdmin {
		ctx = utils.SetIsAdminInContext(ctx, true)
	}
	return user, ctx, nil
}

type syncOrdersRequest struct {
	Orders []models.OfflineOrder `json:"orders" binding:"required"`
}

func syncOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ctx, err := requestUser(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req syncOrdersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if len(req.Orders) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "orders are required"})
			return
		}
		if maxBatch := config.SyncMaxBatchSize(); len(req.Orders) > maxBatch {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("batch exceeds %d orders; split the queue and retry", maxBatch),
			})
			return
		}

		result := models.SyncAllPendingOrders(ctx, req.Orders, user.ID)

		// Partial success is still a 200: the client inspects per-item outcomes.
		c.JSON(http.StatusOK, gin.H{
			"synced":    result.Synced,
			"errors":    result.Errors,
			"conflicts": result.Conflicts,
			"message": fmt.Sprintf("%d synced, %d conflicts resolved, %d errors",
				len(result.Synced), len(result.Conflicts), len(result.Errors)),
		})
	}
}

type resolveConflictRequest struct {
	LocalOrder  models.OfflineOrder `json:"local_order" binding:"required"`
	ServerOrder models.OfflineOrder `json:"server_order" binding:"required"`
}

// Operator-driven dispute resolution outside the automatic batch path.
func resolveConflictHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ctx, err := requestUser(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		orderId, err := strconv.Atoi(c.Param("orderId"))
		if err != nil || orderId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}

		var req resolveConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		if _, err := models.GetOrderById(ctx, user.BusinessId, orderId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		local := req.LocalOrder.ToOrder(user.BusinessId, user.ID)
		server := req.ServerOrder.ToOrder(user.BusinessId, user.ID)
		local.ID = orderId
		server.ID = orderId

		res := models.ResolveOrderConflict(local, server)
		record, err := models.ApplyResolution(ctx, orderId, &res, user.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Respond with the ledger row as committed, not the in-memory copy.
		persisted, err := models.LatestResolutionForOrder(ctx, user.BusinessId, orderId)
		if err != nil {
			persisted = record
		}

		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{
			"order_id":       orderId,
			"action":         res.Action,
			"message":        res.Message,
			"resolution":     persisted,
			"correlation_id": cid,
		})
	}
}

func conflictHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ctx, err := requestUser(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var cursor *string
		if v := strings.TrimSpace(c.Query("cursor")); v != "" {
			cursor = &v
		}

		rows, pageInfo, err := models.GetConflictHistory(ctx, user.BusinessId, cursor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"conflicts": rows,
			"page_info": pageInfo,
		})
	}
}

func conflictStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ctx, err := requestUser(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		stats, err := models.GetConflictStats(ctx, user.BusinessId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	// - SYNC_RATE_LIMIT_MAX_REQUESTS=3000 (separate, higher bucket for /orders/sync)
	var syncLimiter *RateLimiter
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64FromEnv("RATE_LIMIT_MAX_REQUESTS", 600)
		windowSec := int64FromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
		window := time.Duration(windowSec) * time.Second

		rateLimiter := NewRateLimiter(client, "rl:", limit, window)
		r.Use(func(c *gin.Context) {
			// The sync route has its own bucket below.
			if c.Request.URL.Path == "/orders/sync" {
				c.Next()
				return
			}
			rateLimiter.RateLimitMiddleware(c)
		})

		syncLimit := int64FromEnv("SYNC_RATE_LIMIT_MAX_REQUESTS", 3000)
		syncLimiter = NewRateLimiter(client, "rl:sync:", syncLimit, window)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	syncHandlers := []gin.HandlerFunc{}
	if syncLimiter != nil {
		syncHandlers = append(syncHandlers, syncLimiter.RateLimitMiddleware)
	}
	syncHandlers = append(syncHandlers, syncOrdersHandler())
	r.POST("/orders/sync", syncHandlers...)
	r.POST("/orders/resolve-conflict/:orderId", resolveConflictHandler())
	r.GET("/orders/conflict-history", conflictHistoryHandler())
	r.GET("/orders/conflict-stats", conflictStatsHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("order sync backend listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func int64FromEnv(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
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
