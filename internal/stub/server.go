// Package stub is an in-memory URL shortener that answers the same routes
// as the real backend. It backs tests and local smoke runs.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// FirstCounter is the first value encoded into a key.
const FirstCounter int64 = 100000000000

const keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Config controls stub behaviour.
type Config struct {
	// BaseURL prefixes returned short URLs. Empty uses the request host.
	BaseURL string
	// Latency is added to every request.
	Latency time.Duration
	// ErrorRate is the fraction of requests answered with 500.
	ErrorRate float64
	// Redirect answers hits with 301 instead of 200 and a JSON body.
	Redirect bool
	// Seed fixes the error injection stream; 0 is random.
	Seed uint64
}

// Server holds the key store.
type Server struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	counter int64
	byKey   map[string]string
	byURL   map[string]string
	rnd     *rand.Rand
}

// New creates a stub server.
func New(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed)
	if cfg.Seed == 0 {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "stub")),
		counter: FirstCounter,
		byKey:   make(map[string]string),
		byURL:   make(map[string]string),
		rnd:     rand.New(src),
	}
}

// Routes returns the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.inject)
	r.Get("/health", s.handleHealth)
	r.Post("/create", s.handleCreate)
	r.Get("/{key}", s.handleResolve)
	return r
}

// Len returns the number of stored URLs.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("stub listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// inject applies configured latency and error rate.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Latency > 0 {
			t := time.NewTimer(s.cfg.Latency)
			select {
			case <-t.C:
			case <-r.Context().Done():
				t.Stop()
				return
			}
		}
		if s.cfg.ErrorRate > 0 && s.draw() < s.cfg.ErrorRate {
			respondError(w, http.StatusInternalServerError, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

type createRequest struct {
	LongURL string `json:"long_url"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LongURL == "" {
		respondError(w, http.StatusBadRequest, "long_url is required")
		return
	}

	key := s.store(req.LongURL)
	respondJSON(w, http.StatusCreated, map[string]string{
		"short_url": s.base(r) + "/" + key,
	})
}

// store returns the existing key for longURL or allocates the next one.
func (s *Server) store(longURL string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.byURL[longURL]; ok {
		return key
	}
	key := EncodeKey(s.counter)
	s.counter++
	s.byKey[key] = longURL
	s.byURL[longURL] = key
	return key
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	s.mu.Lock()
	longURL, ok := s.byKey[key]
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "URL not found")
		return
	}
	if s.cfg.Redirect {
		http.Redirect(w, r, longURL, http.StatusMovedPermanently)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"long_url": longURL})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) base(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	return "http://" + r.Host
}

// EncodeKey renders n in base 62, zero-padded to seven characters.
func EncodeKey(n int64) string {
	if n <= 0 {
		return "0000000"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = keyAlphabet[n%62]
		n /= 62
	}
	key := string(buf[i:])
	if len(key) < 7 {
		key = strings.Repeat("0", 7-len(key)) + key
	}
	return key
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
