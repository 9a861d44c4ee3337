package breadcrumb

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// MatchOp identifies a context predicate operator. The set is closed:
// an operator outside it makes the predicate false rather than raising
// an error, so malformed selectors fail closed.
type MatchOp string

const (
	OpEq       MatchOp = "eq"
	OpNe       MatchOp = "ne"
	OpContains MatchOp = "contains"
	OpExists   MatchOp = "exists"
)

// Predicate is one structured condition evaluated against a document's
// context payload via a gjson path lookup.
type Predicate struct {
	Path  string  `json:"path"`
	Op    MatchOp `json:"op"`
	Value any     `json:"value,omitempty"`
}

// Selector is a predicate over breadcrumbs. A document matches iff every
// present clause is satisfied; absent clauses are vacuously true.
type Selector struct {
	AnyTags      []string    `json:"any_tags,omitempty"`
	AllTags      []string    `json:"all_tags,omitempty"`
	SchemaName   string      `json:"schema_name,omitempty"`
	ContextMatch []Predicate `json:"context_match,omitempty"`
}

// Matches reports whether doc satisfies every present clause of sel.
// It is pure and safe for concurrent use.
func Matches(doc *Breadcrumb, sel Selector) bool {
	if doc == nil {
		return false
	}
	if sel.SchemaName != "" && sel.SchemaName != doc.SchemaName {
		return false
	}
	if len(sel.AnyTags) > 0 && !hasAnyTag(doc.Tags, sel.AnyTags) {
		return false
	}
	for _, tag := range sel.AllTags {
		if !slices.Contains(doc.Tags, tag) {
			return false
		}
	}
	for _, pred := range sel.ContextMatch {
		if !evalPredicate(doc, pred) {
			return false
		}
	}
	return true
}

func hasAnyTag(tags []string, wanted []string) bool {
	for _, tag := range wanted {
		if slices.Contains(tags, tag) {
			return true
		}
	}
	return false
}

// evalPredicate resolves the predicate path inside the document context.
// A path that resolves to nothing makes the predicate false, never an
// error. Unknown operators fail closed the same way.
func evalPredicate(doc *Breadcrumb, pred Predicate) bool {
	res := gjson.GetBytes(doc.Context, pred.Path)

	switch pred.Op {
	case OpExists:
		return res.Exists()
	case OpEq:
		return res.Exists() && valueEqual(res, pred.Value)
	case OpNe:
		return res.Exists() && !valueEqual(res, pred.Value)
	case OpContains:
		return res.Exists() && valueContains(res, pred.Value)
	default:
		return false
	}
}

func valueEqual(res gjson.Result, want any) bool {
	switch v := want.(type) {
	case string:
		return res.Type == gjson.String && res.Str == v
	case bool:
		return res.IsBool() && res.Bool() == v
	case float64:
		return res.Type == gjson.Number && res.Num == v
	case int:
		return res.Type == gjson.Number && res.Num == float64(v)
	case int64:
		return res.Type == gjson.Number && res.Num == float64(v)
	case nil:
		return res.Type == gjson.Null
	default:
		return res.Raw == fmt.Sprint(v)
	}
}

// valueContains handles the two containment shapes: substring match on
// strings and element match on arrays.
func valueContains(res gjson.Result, want any) bool {
	switch res.Type {
	case gjson.String:
		s, ok := want.(string)
		return ok && strings.Contains(res.Str, s)
	case gjson.JSON:
		if !res.IsArray() {
			return false
		}
		found := false
		res.ForEach(func(_, elem gjson.Result) bool {
			if valueEqual(elem, want) {
				found = true
				return false
			}
			return true
		})
		return found
	default:
		return false
	}
}
