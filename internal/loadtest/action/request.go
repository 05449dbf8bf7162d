package action

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wesleyorama2/shortload/internal/tracing"
)

type response struct {
	status  int
	body    []byte
	latency time.Duration
	err     error
}

// roundTrip issues one request and reads the whole body. Latency covers
// the exchange up to the last body byte.
func roundTrip(ctx context.Context, env *Env, method, url string, body io.Reader, header http.Header) response {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return response{err: fmt.Errorf("failed to build request: %w", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if env.Propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	start := time.Now()
	resp, err := env.Client.Do(req)
	if err != nil {
		return response{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	r := response{status: resp.StatusCode, body: payload, latency: time.Since(start)}
	if err != nil {
		r.err = fmt.Errorf("failed to read response body: %w", err)
	}
	return r
}

func (e *Env) tracer() trace.Tracer {
	if e.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return e.Tracer
}

// failedChecks marks every label as failed, used when no response arrived.
func failedChecks(labels ...string) []Check {
	checks := make([]Check, len(labels))
	for i, l := range labels {
		checks[i] = Check{Label: l}
	}
	return checks
}
