// Package datagen generates the synthetic payloads used by load test actions.
//
// Generated URLs deliberately include edge cases: when an assembled URL
// exceeds the configured maximum it is cut at exactly that length, even if
// the cut lands inside a token or a delimiter. Backends under test therefore
// see a steady trickle of malformed input alongside well-formed URLs.
package datagen

import (
	"math/rand/v2"
	"strings"
)

// Alphabet is the 62-symbol character set used for random tokens.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultMaxURLLength is the length cap applied by DefaultURL.
const DefaultMaxURLLength = 400

// Schemes are the URL schemes a generated URL can start with.
var Schemes = []string{"http", "https", "ftp", "sftp"}

// TLDs are the top-level-domain tokens appended to the random host label.
var TLDs = []string{"com", "org", "net", "io", "edu", "gov"}

// Shape bounds for generated URLs. All ranges are inclusive.
const (
	hostMinLen, hostMaxLen       = 1, 20
	segmentMinLen, segmentMaxLen = 1, 15
	maxPathSegments              = 5
	maxQueryParams               = 5
	keyMinLen, keyMaxLen         = 1, 10
	valueMinLen, valueMaxLen     = 1, 20
	fragmentMinLen, fragmentMax  = 1, 10
)

// Generator produces random tokens and URLs from an explicit random source.
//
// A Generator is not safe for concurrent use. Each virtual user owns its own.
type Generator struct {
	rnd *rand.Rand
}

// New returns a Generator drawing from src.
func New(src rand.Source) *Generator {
	return &Generator{rnd: rand.New(src)}
}

// NewSeeded returns a deterministic Generator, for tests and reproducible runs.
func NewSeeded(seed uint64) *Generator {
	return New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewRandom returns a Generator seeded from the runtime's random state.
func NewRandom() *Generator {
	return New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Rand exposes the underlying source so callers can share one stream per VU.
func (g *Generator) Rand() *rand.Rand {
	return g.rnd
}

// IntBetween returns a uniform integer in [min, max].
func (g *Generator) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + g.rnd.IntN(max-min+1)
}

// Token returns a string of exactly length characters drawn uniformly,
// with replacement, from Alphabet. A non-positive length yields "".
func (g *Generator) Token(length int) string {
	if length <= 0 {
		return ""
	}
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = Alphabet[g.rnd.IntN(len(Alphabet))]
	}
	return string(buf)
}

// URL returns a URL-like string no longer than maxLength characters.
func (g *Generator) URL(maxLength int) string {
	if maxLength <= 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(Schemes[g.rnd.IntN(len(Schemes))])
	sb.WriteString("://")
	sb.WriteString(g.Token(g.IntBetween(hostMinLen, hostMaxLen)))
	sb.WriteByte('.')
	sb.WriteString(TLDs[g.rnd.IntN(len(TLDs))])

	segments := g.IntBetween(0, maxPathSegments)
	for i := 0; i < segments; i++ {
		sb.WriteByte('/')
		sb.WriteString(g.Token(g.IntBetween(segmentMinLen, segmentMaxLen)))
	}

	params := g.IntBetween(0, maxQueryParams)
	if params > 0 {
		sb.WriteByte('?')
		for i := 0; i < params; i++ {
			if i > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(g.Token(g.IntBetween(keyMinLen, keyMaxLen)))
			sb.WriteByte('=')
			sb.WriteString(g.Token(g.IntBetween(valueMinLen, valueMaxLen)))
		}
	}

	if g.rnd.IntN(2) == 1 {
		sb.WriteByte('#')
		sb.WriteString(g.Token(g.IntBetween(fragmentMinLen, fragmentMax)))
	}

	url := sb.String()
	if len(url) > maxLength {
		url = url[:maxLength]
	}
	return url
}

// DefaultURL returns URL(DefaultMaxURLLength).
func (g *Generator) DefaultURL() string {
	return g.URL(DefaultMaxURLLength)
}
