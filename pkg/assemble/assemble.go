// Package assemble resolves a component's context subscriptions into the
// keyed bundle passed to one execution. Bundles are built fresh for every
// trigger and never cached across triggers.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"ripple/pkg/breadcrumb"
	"ripple/pkg/store"
)

// Source is the read-only slice of the document store the assembler
// queries. The triggering document itself never needs a round-trip.
type Source interface {
	List(ctx context.Context, q store.Query) ([]breadcrumb.Breadcrumb, error)
}

// Bundle maps subscription keys to their resolved values: *Breadcrumb
// for event_data/latest, []Breadcrumb for recent/all. A key whose fetch
// failed is absent; partial context is preferable to no execution.
type Bundle map[string]any

// Assembler resolves subscriptions against a document source.
type Assembler struct {
	source Source
	// DefaultLimit bounds recent/all fetches whose subscription left
	// Limit zero.
	DefaultLimit int
}

func NewAssembler(source Source) *Assembler {
	return &Assembler{source: source, DefaultLimit: 10}
}

// Assemble resolves every given subscription concurrently and merges the
// results into one bundle. Individual fetch failures degrade that key to
// absent rather than aborting the assembly; all resolutions are awaited
// before the bundle is returned, so execution never starts on a bundle
// that is still being filled.
func (a *Assembler) Assemble(ctx context.Context, trigger *breadcrumb.Breadcrumb, subs []breadcrumb.Subscription) Bundle {
	bundle := make(Bundle, len(subs))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		group.Go(func() error {
			value, err := a.resolve(groupCtx, trigger, sub)
			if err != nil {
				slog.Warn("Context fetch failed, degrading key to absent",
					"key", sub.BundleKey(), "method", sub.Fetch.Method, "error", err)
				return nil
			}
			if value == nil {
				return nil
			}
			mu.Lock()
			bundle[sub.BundleKey()] = value
			mu.Unlock()
			return nil
		})
	}
	group.Wait()
	return bundle
}

func (a *Assembler) resolve(ctx context.Context, trigger *breadcrumb.Breadcrumb, sub breadcrumb.Subscription) (any, error) {
	switch sub.Fetch.Method {
	case breadcrumb.FetchEventData, "":
		// The triggering document's own payload: zero store queries.
		return trigger, nil
	case breadcrumb.FetchLatest:
		docs, err := a.query(ctx, sub, 1)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return &docs[0], nil
	case breadcrumb.FetchRecent, breadcrumb.FetchAll:
		docs, err := a.query(ctx, sub, sub.Fetch.Limit)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("unsupported fetch method %q", sub.Fetch.Method)
	}
}

// refineWindow widens the store fetch when the selector carries
// clauses the coarse query cannot express, so newest non-matching
// documents do not crowd matching older ones out of the limit.
const refineWindow = 4

// query issues one store list bounded by the subscription's selector.
// The store filters coarsely on schema and a single tag; the full
// selector is re-applied locally.
func (a *Assembler) query(ctx context.Context, sub breadcrumb.Subscription, limit int) ([]breadcrumb.Breadcrumb, error) {
	if limit <= 0 {
		limit = a.DefaultLimit
	}
	sel := sub.Selector
	q := store.Query{
		SchemaName: sel.SchemaName,
		Limit:      limit,
	}
	if len(sel.AllTags) > 0 {
		q.Tag = sel.AllTags[0]
	} else if len(sel.AnyTags) == 1 {
		q.Tag = sel.AnyTags[0]
	}
	if refinesLocally(sel, q.Tag) {
		q.Limit = limit * refineWindow
		if q.Limit < a.DefaultLimit {
			q.Limit = a.DefaultLimit
		}
	}

	docs, err := a.source.List(ctx, q)
	if err != nil {
		return nil, err
	}

	matched := docs[:0]
	for _, doc := range docs {
		if breadcrumb.Matches(&doc, sel) {
			matched = append(matched, doc)
		}
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// refinesLocally reports whether the selector has clauses beyond the
// coarse schema-plus-one-tag query the store understands.
func refinesLocally(sel breadcrumb.Selector, coarseTag string) bool {
	if len(sel.ContextMatch) > 0 || len(sel.AllTags) > 1 {
		return true
	}
	switch len(sel.AnyTags) {
	case 0:
		return false
	case 1:
		return sel.AnyTags[0] != coarseTag
	default:
		return true
	}
}
