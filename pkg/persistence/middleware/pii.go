package middleware

import (
	"context"
	"iter"
	"regexp"

	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

type piiMiddleware struct {
	ports.Journal
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a read-side middleware that masks argument values
// whose keys match any pattern. Appends pass through untouched, because
// masked arguments would replay differently. Use it to inspect a journal.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.Journal) ports.Journal {
		return &piiMiddleware{Journal: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Replay(ctx context.Context) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		for rec, err := range m.Journal.Replay(ctx) {
			if err == nil && len(rec.Args) > 0 {
				masked := deepCopyMap(rec.Args)
				maskMap(masked, m.patterns)
				rec.Args = masked
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				break
			}
		}

		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
