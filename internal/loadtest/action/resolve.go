package action

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/wesleyorama2/shortload/internal/tracing"
)

// CheckResolveStatus is the label Resolve reports with the default accept set.
const CheckResolveStatus = "Get status is 200 or 404"

// Resolve looks up a short key. Most keys are random guesses, so both a hit
// and a miss count as success.
type Resolve struct {
	// KeyMinLength and KeyMaxLength bound random key length. Default [1,7].
	KeyMinLength int
	KeyMaxLength int
	// AcceptStatus lists non-error statuses. Defaults to 200 and 404.
	AcceptStatus []int
	// ReuseProbability is the chance of resolving a previously created key
	// instead of a random one. Zero disables reuse.
	ReuseProbability float64
}

// Name implements Action.
func (r *Resolve) Name() string { return NameResolve }

// Execute implements Action.
func (r *Resolve) Execute(ctx context.Context, env *Env) Outcome {
	ctx, span := tracing.StartActionSpan(ctx, env.tracer(), NameResolve, http.MethodGet)

	resp := roundTrip(ctx, env, http.MethodGet, joinURL(env.BaseURL, r.key(env)), nil, nil)
	out := Outcome{
		Action:     NameResolve,
		StatusCode: resp.status,
		Latency:    resp.latency,
		Err:        resp.err,
		Bytes:      int64(len(resp.body)),
	}
	label := r.CheckLabel()
	if resp.err != nil {
		out.StatusCode = 0
		out.Checks = failedChecks(label)
	} else {
		out.Checks = []Check{{Label: label, Passed: slices.Contains(r.accept(), resp.status)}}
	}

	tracing.EndActionSpan(span, out.StatusCode, out.Failed(), out.Err)
	return out
}

// CheckLabel names the status check for the configured accept set.
func (r *Resolve) CheckLabel() string {
	accept := r.accept()
	if slices.Equal(accept, defaultAccept) {
		return CheckResolveStatus
	}
	codes := make([]string, len(accept))
	for i, c := range accept {
		codes[i] = strconv.Itoa(c)
	}
	return "Get status is " + strings.Join(codes, " or ")
}

var defaultAccept = []int{http.StatusOK, http.StatusNotFound}

func (r *Resolve) accept() []int {
	if len(r.AcceptStatus) == 0 {
		return defaultAccept
	}
	return r.AcceptStatus
}

func (r *Resolve) key(env *Env) string {
	rnd := env.Gen.Rand()
	if r.ReuseProbability > 0 && env.Keys != nil && rnd.Float64() < r.ReuseProbability {
		if k, ok := env.Keys.Pick(rnd.IntN); ok {
			return k
		}
	}

	lo, hi := r.KeyMinLength, r.KeyMaxLength
	if lo <= 0 {
		lo = 1
	}
	if hi <= 0 {
		hi = 7
	}
	return env.Gen.Token(env.Gen.IntBetween(lo, hi))
}
