package loadtest

import (
	"crypto/tls"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/datagen"
	"github.com/wesleyorama2/shortload/internal/loadtest/mix"
)

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout bounds a whole request including the body read.
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool

	// FollowRedirects makes the client follow 3xx responses. Off by default:
	// a shortener answers hits with a redirect to an arbitrary long URL.
	FollowRedirects bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient builds the client shared by all VUs.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// SchedulerConfig describes what every spawned VU runs.
type SchedulerConfig struct {
	BaseURL  string
	Selector mix.Selector
	Actions  action.Set
	HTTP     HTTPClientConfig

	// Seed makes every VU's random stream reproducible. Zero means
	// non-deterministic sources.
	Seed uint64

	Tracer    trace.Tracer
	Propagate bool
	Keys      action.KeySource

	// Client overrides the client built from HTTP.
	Client *http.Client
}

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
// - VU pool management (spawning/stopping VUs)
// - A shared HTTP client for connection pooling
// - Per-VU random sources derived from the run seed
// - Graceful shutdown coordination
type VUScheduler struct {
	config   SchedulerConfig
	recorder Recorder
	logger   *zap.Logger
	client   *http.Client

	vus      map[int]*VirtualUser
	vusMu    sync.RWMutex
	nextVUID atomic.Int32
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(cfg SchedulerConfig, recorder Recorder, logger *zap.Logger) *VUScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = NewHTTPClient(cfg.HTTP)
	}
	return &VUScheduler{
		config:   cfg,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "scheduler")),
		client:   client,
		vus:      make(map[int]*VirtualUser),
	}
}

// Client returns the shared HTTP client.
func (s *VUScheduler) Client() *http.Client {
	return s.client
}

// SpawnVU creates and registers a new Virtual User. The caller runs it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	env := &action.Env{
		Client:    s.client,
		BaseURL:   s.config.BaseURL,
		Gen:       s.generatorFor(id),
		Tracer:    s.config.Tracer,
		Propagate: s.config.Propagate,
		Keys:      s.config.Keys,
	}
	vu := NewVirtualUser(id, s.config.Selector, s.config.Actions, env, s.recorder, s.logger)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	s.logger.Debug("spawned VU", zap.Int("vu", id))
	return vu
}

// generatorFor returns the generator of VU id. With a seed, VU n always
// sees the same stream regardless of scheduling.
func (s *VUScheduler) generatorFor(id int) *datagen.Generator {
	if s.config.Seed == 0 {
		return datagen.NewRandom()
	}
	return datagen.New(rand.NewPCG(s.config.Seed, uint64(id)))
}

// Release removes a stopped VU from the pool.
func (s *VUScheduler) Release(vu *VirtualUser) {
	vu.MarkStopped()
	s.vusMu.Lock()
	delete(s.vus, vu.ID)
	s.vusMu.Unlock()
}

// GetVU returns a VU by ID, or nil if not found.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUCount returns the count of VUs not yet stopped.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// StopAllVUs requests all VUs to stop after their current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// WaitForAllVUs waits for all VUs to stop with a timeout.
//
// Returns the number of VUs that did not stop within the timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 || !vu.WaitForStop(remaining) {
			notStopped++
		}
	}
	return notStopped
}

// Shutdown stops every VU, waits up to timeout, and closes idle connections.
func (s *VUScheduler) Shutdown(timeout time.Duration) int {
	s.StopAllVUs()
	remaining := s.WaitForAllVUs(timeout)
	if remaining > 0 {
		s.logger.Warn("VUs still running after shutdown timeout", zap.Int("vus", remaining))
	}
	s.client.CloseIdleConnections()
	return remaining
}
