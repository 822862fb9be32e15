// Package admin is the HTTP introspection surface that exposes
// TransactionManager.Stats() and a connection-limit-shaped rate limiter,
// grounded on the teacher's internal/server (gorilla/mux is swapped in for
// gin per DESIGN.md) and internal/tools/web rate limiter.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"dev.helix.code/internal/txnmanager"
)

// Server is the admin HTTP surface. It never mutates the
// TransactionManager; every route is a read-out (spec.md §6 "memory-usage
// and counter read-outs").
type Server struct {
	manager *txnmanager.TransactionManager
	router  *mux.Router
	http    *http.Server
	limiter *connectionLimiter
}

// Config configures the admin HTTP server.
type Config struct {
	Address string
	Port    int

	// ConnectionLimit is spec.md §6's connection_limit key: advisory, not
	// enforced by the core itself, but enforced here at the admin surface
	// as a per-remote-address request rate.
	ConnectionLimit int
}

// New builds an admin Server bound to manager.
func New(cfg Config, manager *txnmanager.TransactionManager) *Server {
	router := mux.NewRouter()
	s := &Server{
		manager: manager,
		router:  router,
		limiter: newConnectionLimiter(cfg.ConnectionLimit),
	}

	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Use(s.limiter.middleware)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server; it blocks until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("admin: listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// connectionLimiter shapes request rate per remote address, standing in
// for spec.md §6's advisory connection_limit key.
type connectionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   float64
	burst    int
}

func newConnectionLimiter(connectionLimit int) *connectionLimiter {
	if connectionLimit <= 0 {
		connectionLimit = 256
	}
	return &connectionLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   float64(connectionLimit) / 10,
		burst:    connectionLimit,
	}
}

func (c *connectionLimiter) limiterFor(addr string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.perSec), c.burst)
		c.limiters[addr] = l
	}
	return l
}

func (c *connectionLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.limiterFor(r.RemoteAddr).Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
