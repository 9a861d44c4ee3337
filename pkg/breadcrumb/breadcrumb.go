package breadcrumb

import (
	"slices"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Breadcrumb is the atomic unit of state and communication: a versioned,
// tagged JSON record that is both data and event source. Updates must carry
// the version they read; the store rejects stale writes.
type Breadcrumb struct {
	ID         string              `json:"id"`
	SchemaName string              `json:"schema_name"`
	Title      string              `json:"title"`
	Tags       []string            `json:"tags"`
	Context    jsoniter.RawMessage `json:"context,omitempty"`
	Version    int64               `json:"version"`
}

// HasTag reports whether the breadcrumb carries the given tag.
func (b *Breadcrumb) HasTag(tag string) bool {
	return slices.Contains(b.Tags, tag)
}

// DecodeContext unmarshals the breadcrumb's context payload into out.
func (b *Breadcrumb) DecodeContext(out any) error {
	if len(b.Context) == 0 {
		return nil
	}
	return json.Unmarshal(b.Context, out)
}

// RequestTag builds the correlation tag shared by a request document and
// its response (e.g. "request:01J3...").
func RequestTag(requestID string) string {
	return "request:" + requestID
}

// RequestIDFromTags extracts the correlation id from a tag set, or "" when
// the document carries no request tag.
func RequestIDFromTags(tags []string) string {
	for _, tag := range tags {
		if id, ok := strings.CutPrefix(tag, "request:"); ok {
			return id
		}
	}
	return ""
}
