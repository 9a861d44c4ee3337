package breadcrumb

// Role decides what a subscription match means: a trigger match causes
// execution, a context match only supplies input.
type Role string

const (
	RoleTrigger Role = "trigger"
	RoleContext Role = "context"
)

// FetchMethod selects how a context subscription resolves to a value.
type FetchMethod string

const (
	// FetchEventData uses the triggering document's own payload. Zero
	// extra round-trips.
	FetchEventData FetchMethod = "event_data"
	// FetchLatest resolves to the most recent matching document.
	FetchLatest FetchMethod = "latest"
	// FetchRecent resolves to up to Limit matching documents, newest first.
	FetchRecent FetchMethod = "recent"
	// FetchAll resolves to every matching document, for small closed sets.
	FetchAll FetchMethod = "all"
)

// FetchSpec bounds how a subscription's value is resolved.
type FetchSpec struct {
	Method FetchMethod `json:"method"`
	Limit  int         `json:"limit,omitempty"`
}

// Subscription declares what documents a component cares about and how
// their values enter its context bundle.
type Subscription struct {
	Selector Selector  `json:"selector"`
	Role     Role      `json:"role"`
	Key      string    `json:"key,omitempty"`
	Fetch    FetchSpec `json:"fetch"`
}

// BundleKey returns the name under which the resolved value appears in
// the assembled context bundle, defaulting to the selector's schema name.
func (s Subscription) BundleKey() string {
	if s.Key != "" {
		return s.Key
	}
	return s.Selector.SchemaName
}

// Triggers reports whether a matching document should cause execution.
func (s Subscription) Triggers(doc *Breadcrumb) bool {
	return s.Role == RoleTrigger && Matches(doc, s.Selector)
}

// CoarseFilter is the server-side pre-filter derived from a set of
// subscriptions: the union of all tags and schema names their selectors
// mention. Fine-grained matching stays local.
type CoarseFilter struct {
	Tags        []string
	SchemaNames []string
}

// BuildCoarseFilter unions the tags and schema names of all selectors.
func BuildCoarseFilter(subs []Subscription) CoarseFilter {
	var filter CoarseFilter
	seenTags := map[string]bool{}
	seenSchemas := map[string]bool{}
	for _, sub := range subs {
		// Collected into a fresh slice; appending AllTags onto AnyTags
		// directly could write into the selector's backing array.
		tags := make([]string, 0, len(sub.Selector.AnyTags)+len(sub.Selector.AllTags))
		tags = append(tags, sub.Selector.AnyTags...)
		tags = append(tags, sub.Selector.AllTags...)
		for _, tag := range tags {
			if !seenTags[tag] {
				seenTags[tag] = true
				filter.Tags = append(filter.Tags, tag)
			}
		}
		if name := sub.Selector.SchemaName; name != "" && !seenSchemas[name] {
			seenSchemas[name] = true
			filter.SchemaNames = append(filter.SchemaNames, name)
		}
	}
	return filter
}
