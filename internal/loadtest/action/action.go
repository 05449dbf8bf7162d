// Package action implements the requests a virtual user issues against the
// shortener backend and the outcomes they produce.
//
// Actions never return errors. Expectation failures and transport failures
// are both captured in the returned Outcome so the run keeps going.
package action

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wesleyorama2/shortload/internal/loadtest/datagen"
)

// Names of the built-in actions.
const (
	NameCreate  = "create"
	NameResolve = "resolve"
)

// Action is one unit of simulated work.
type Action interface {
	Name() string
	Execute(ctx context.Context, env *Env) Outcome
}

// KeySource hands out previously created short keys.
type KeySource interface {
	// Pick returns a stored key chosen with n, which must return a value
	// in [0, size). ok is false when nothing is stored yet.
	Pick(n func(size int) int) (key string, ok bool)
}

// Env is the per-VU context an action runs in. Client and Tracer are
// shared; Gen belongs to exactly one VU.
type Env struct {
	Client    *http.Client
	BaseURL   string
	Gen       *datagen.Generator
	Tracer    trace.Tracer
	Propagate bool
	Keys      KeySource
}

// Check is a single labelled expectation on a response.
type Check struct {
	Label  string `json:"label"`
	Passed bool   `json:"passed"`
}

// Outcome is the immutable record of one executed action.
type Outcome struct {
	Action     string        `json:"action"`
	StatusCode int           `json:"statusCode"`
	Latency    time.Duration `json:"latency"`
	Checks     []Check       `json:"checks"`
	Err        error         `json:"-"`
	CreatedKey string        `json:"createdKey,omitempty"`
	Bytes      int64         `json:"bytes"`
}

// Failed reports whether the outcome counts toward the error rate.
func (o Outcome) Failed() bool {
	if o.Err != nil {
		return true
	}
	for _, c := range o.Checks {
		if !c.Passed {
			return true
		}
	}
	return false
}

// FailedChecks returns the labels of failing checks.
func (o Outcome) FailedChecks() []string {
	var out []string
	for _, c := range o.Checks {
		if !c.Passed {
			out = append(out, c.Label)
		}
	}
	return out
}

// Set maps action names to implementations.
type Set map[string]Action

// NewSet builds a Set keyed by each action's Name.
func NewSet(actions ...Action) Set {
	s := make(Set, len(actions))
	for _, a := range actions {
		s[a.Name()] = a
	}
	return s
}
