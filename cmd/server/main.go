// Command server is the composition root for the write-path subsystem: it
// loads configuration, dials Postgres and Redis, wires the engines in
// internal/services, exposes health/live/ready and WebSocket upgrade
// endpoints over gin, and runs the background jobs (reservation sweep,
// auction scheduler, trending recompute) until a shutdown signal arrives.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/fntelecomllc/writepath/internal/config"
	"github.com/fntelecomllc/writepath/internal/corerr"
	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/logging"
	"github.com/fntelecomllc/writepath/internal/services"
	"github.com/fntelecomllc/writepath/internal/store/postgres"
)

func main() {
	log.Println("starting write-path server")

	cfg, err := config.Load(os.Getenv("CORE_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.Database.ConnectionMaxLifetime)

	kvClient, err := kv.New(rootCtx, kv.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	})
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer kvClient.Close()

	tm := postgres.NewTransactionManager(db)
	stores := services.Stores{
		Resources:    postgres.NewResourceStore(),
		Reservations: postgres.NewReservationStore(),
		Auctions:     postgres.NewAuctionStore(),
		Bids:         postgres.NewBidStore(),
		AutoBids:     postgres.NewAutoBidStore(),
		Videos:       postgres.NewVideoStore(),
	}

	svc := services.Build(cfg, db, tm, kvClient, stores, cfg.Trending.Categories)

	go svc.Fanout.Run(rootCtx)
	go svc.Fanout.RunBridge(rootCtx)
	go runEvery(rootCtx, cfg.Reservation.SweepInterval, func(ctx context.Context) {
		n, err := svc.Reservations.ExpireStale(ctx)
		if err != nil {
			log.Printf("reservation sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("reservation sweep expired %d reservations", n)
		}
	})
	go svc.Scheduler.Run(rootCtx, cfg.Auction.SchedulerInterval)
	go svc.TrendingSvc.Run(rootCtx)
	go runEvery(rootCtx, cfg.Fanout.HeartbeatInterval, func(ctx context.Context) {
		svc.Fanout.HeartbeatSweep(ctx)
	})

	router := newRouter(cfg, svc)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	log.Printf("server listening on %s", httpSrv.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutdown signal received")

	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("server exited gracefully")
}

// runEvery is the supervised-task pattern for a timer-based background job
// (spec.md §9): the ticker lives inside the task; on shutdown the current
// iteration completes, then the task exits rather than being killed
// mid-transaction.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func newRouter(cfg *config.Config, svc *services.Services) *gin.Engine {
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/livez", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/readyz", func(c *gin.Context) {
		clients, rooms := svc.Fanout.Stats()
		c.JSON(http.StatusOK, gin.H{"clients": clients, "rooms": rooms})
	})

	api := r.Group("/api/v1")
	registerReservationRoutes(api, svc)
	registerAuctionRoutes(api, svc)
	registerTrendingRoutes(api, svc)

	r.GET("/ws", func(c *gin.Context) {
		conn, err := svc.Fanout.Upgrade(c.Writer, c.Request)
		if err != nil {
			log.Printf("ws upgrade failed: %v", err)
			return
		}
		actorID := c.Query("actorId")
		svc.Fanout.Connect(c.Request.Context(), conn, actorID)
	})

	return r
}

// requestLogger carries a correlation id through every request's context,
// matching spec.md §9's "per-request loggers, no global state" guidance.
func requestLogger() gin.HandlerFunc {
	base := logging.New("http")
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Correlation-ID", correlationID)

		start := time.Now()
		c.Next()
		base.Info(ctx, "request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"durationMs": time.Since(start).Milliseconds(),
		})
	}
}

// statusFor maps a corerr.Kind to its HTTP status, kept in cmd/server so
// the engine packages never import net/http.
func statusFor(err error) int {
	switch corerr.KindOf(err) {
	case corerr.BadRequest:
		return http.StatusBadRequest
	case corerr.NotFound:
		return http.StatusNotFound
	case corerr.Unavailable, corerr.Conflict, corerr.BidTooLow:
		return http.StatusConflict
	case corerr.LockUnavailable, corerr.RateLimited:
		return http.StatusTooManyRequests
	case corerr.Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
