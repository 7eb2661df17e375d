package remote

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrelsync/docsync/internal/model"
)

// Fingerprint returns a stable content hash of doc, excluding the default
// system fields plus any caller-supplied extras, with object keys sorted
// at every nesting depth so field reordering never changes the digest.
func Fingerprint(doc model.Document, extraExclude []string) string {
	exclude := make(map[string]struct{}, len(model.SystemFields)+len(extraExclude))
	for _, f := range model.SystemFields {
		exclude[f] = struct{}{}
	}
	for _, f := range extraExclude {
		exclude[f] = struct{}{}
	}

	var sb strings.Builder
	encodeValue(&sb, filterTop(doc, exclude))

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func filterTop(doc model.Document, exclude map[string]struct{}) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if _, skip := exclude[k]; skip {
			continue
		}
		out[k] = v
	}
	return out
}

// encodeValue writes a canonical representation of v: objects have their
// keys sorted recursively, arrays preserve order (order is significant
// data), scalars are rendered with fmt so the hash is stable regardless of
// the decoded Go type (float64 from JSON, string, bool, nil, ...).
func encodeValue(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(sb, "%q:", k)
			encodeValue(sb, val[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeValue(sb, item)
		}
		sb.WriteByte(']')
	case nil:
		sb.WriteString("null")
	case string:
		fmt.Fprintf(sb, "%q", val)
	default:
		fmt.Fprintf(sb, "%v", val)
	}
}
