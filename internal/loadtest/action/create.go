package action

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/shortload/internal/loadtest/datagen"
	"github.com/wesleyorama2/shortload/internal/tracing"
)

// Check labels reported by Create.
const (
	CheckCreateStatus   = "Create status is 201"
	CheckCreateShortURL = "Create response has short_url"
)

// Create posts a freshly generated long URL to the create endpoint.
type Create struct {
	// Path is appended to the base URL. Defaults to "/create".
	Path string
	// MaxURLLength caps the generated long_url. Defaults to 400.
	MaxURLLength int
	// ExpectStatus is the success status. Defaults to 201.
	ExpectStatus int
}

// Name implements Action.
func (c *Create) Name() string { return NameCreate }

// Execute implements Action.
func (c *Create) Execute(ctx context.Context, env *Env) Outcome {
	ctx, span := tracing.StartActionSpan(ctx, env.tracer(), NameCreate, http.MethodPost)

	out := c.execute(ctx, env)

	tracing.EndActionSpan(span, out.StatusCode, out.Failed(), out.Err)
	return out
}

func (c *Create) execute(ctx context.Context, env *Env) Outcome {
	maxLen := c.MaxURLLength
	if maxLen <= 0 {
		maxLen = datagen.DefaultMaxURLLength
	}
	payload, err := json.Marshal(map[string]string{"long_url": env.Gen.URL(maxLen)})
	if err != nil {
		return Outcome{Action: NameCreate, Err: err, Checks: failedChecks(CheckCreateStatus, CheckCreateShortURL)}
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	resp := roundTrip(ctx, env, http.MethodPost, joinURL(env.BaseURL, c.path()), bytes.NewReader(payload), header)
	out := Outcome{
		Action:     NameCreate,
		StatusCode: resp.status,
		Latency:    resp.latency,
		Err:        resp.err,
		Bytes:      int64(len(resp.body)),
	}
	if resp.err != nil {
		out.StatusCode = 0
		out.Checks = failedChecks(CheckCreateStatus, CheckCreateShortURL)
		return out
	}

	statusOK := resp.status == c.expectStatus()
	shortURL := gjson.GetBytes(resp.body, "short_url")
	hasShortURL := gjson.ValidBytes(resp.body) && shortURL.Exists()

	out.Checks = []Check{
		{Label: CheckCreateStatus, Passed: statusOK},
		{Label: CheckCreateShortURL, Passed: hasShortURL},
	}
	if statusOK && hasShortURL {
		out.CreatedKey = lastSegment(shortURL.String())
	}
	return out
}

func (c *Create) path() string {
	if c.Path == "" {
		return "/create"
	}
	return c.Path
}

func (c *Create) expectStatus() int {
	if c.ExpectStatus == 0 {
		return http.StatusCreated
	}
	return c.ExpectStatus
}

// lastSegment returns the final path segment of a short URL, ignoring
// query and fragment.
func lastSegment(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
