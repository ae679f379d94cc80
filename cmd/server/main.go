/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the dues reconciliation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Connect Redis (optional; enables distributed rate limiting)
  4. Build the engine, HTTP handler, and router
  5. Start the generation scheduler
  6. Start server with graceful shutdown

CONFIGURATION:
  Flags override environment variables; .env files feed the environment.
  -port / PORT            HTTP server port (default: 8080)
  -db / DATABASE_PATH     SQLite path (default: dues.db, ":memory:" ok)
  -redis / REDIS_ADDR     Redis address; empty disables Redis
  -tenants / TENANTS      Comma-separated tenants for the scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database

EXAMPLES:
  ./server -db="./data/dues.db"
  ./server -db=":memory:" -port=3000
  REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/warp/dues-engine/api"
	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/ledger"
	redisstore "github.com/warp/dues-engine/store/redis"
	"github.com/warp/dues-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("[Main] loaded configuration from .env")
	}

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "dues.db"), "SQLite database path")
	redisAddr := flag.String("redis", envStr("REDIS_ADDR", ""), "Redis address (empty disables Redis)")
	tenants := flag.String("tenants", envStr("TENANTS", "default"), "comma-separated tenants for the scheduler")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Redis is optional: without it the in-process limiter still protects
	// a single instance.
	var limiter engine.Limiter = engine.NewWindowLimiter(10, time.Minute)
	var dedup api.DedupGuard
	if *redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: *redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisstore.Ping(ctx, client); err != nil {
			log.Printf("[Main] redis unavailable (%v), falling back to in-process limiter", err)
		} else {
			limiter = redisstore.NewLimiter(client, "dues:rate", 10, time.Minute)
			dedup = redisstore.NewDedupGuard(client, "dues:seen", 5*time.Minute)
			log.Printf("[Main] redis connected at %s", *redisAddr)
		}
		cancel()
	}

	eng := engine.New(store, engine.WithNotifier(engine.LogNotifier{}))
	handler := api.NewHandler(eng, limiter)
	handler.Dedup = dedup
	router := api.NewRouter(handler)

	var tenantIDs []ledger.TenantID
	for _, t := range strings.Split(*tenants, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenantIDs = append(tenantIDs, ledger.TenantID(t))
		}
	}
	scheduler := api.NewGenerationScheduler(eng, tenantIDs)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[Main] server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Main] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("[Main] server stopped")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
