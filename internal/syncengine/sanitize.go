package syncengine

import (
	"time"

	"github.com/kestrelsync/docsync/internal/model"
)

// Sanitize strips side-local metadata fields before a document crosses to
// the receiving side, which assigns its own values for them.
func Sanitize(doc model.Document, extraExclude []string) model.Document {
	exclude := make(map[string]struct{}, len(model.SanitizeFields)+len(extraExclude))
	for _, f := range model.SanitizeFields {
		exclude[f] = struct{}{}
	}
	for _, f := range extraExclude {
		exclude[f] = struct{}{}
	}

	clean := make(model.Document, len(doc))
	for k, v := range doc {
		if _, skip := exclude[k]; skip {
			continue
		}
		clean[k] = v
	}
	return clean
}

const (
	layoutWithMicros = "2006-01-02 15:04:05.000000"
	layoutSeconds    = "2006-01-02 15:04:05"
)

// ParseModified parses a document's modified timestamp, trying the
// microsecond-precision layout first. An empty or unparseable value
// returns the zero Time, which sorts before every real timestamp and is
// used only for conflict tie-breaking, never persisted.
func ParseModified(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(layoutWithMicros, s); err == nil {
		return t
	}
	if t, err := time.Parse(layoutSeconds, s); err == nil {
		return t
	}
	return time.Time{}
}
