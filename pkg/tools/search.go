package tools

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"ripple/pkg/assemble"
	"ripple/pkg/breadcrumb"
	"ripple/pkg/store"
	"ripple/pkg/tool"
)

const searchDefaultLimit = 20

type searchInput struct {
	SchemaName string `json:"schema_name,omitempty"`
	Tag        string `json:"tag,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type searchOutput struct {
	Count     int                     `json:"count"`
	Documents []breadcrumb.Breadcrumb `json:"documents"`
}

// searchSource is the store read surface the search tool needs.
type searchSource interface {
	List(ctx context.Context, q store.Query) ([]breadcrumb.Breadcrumb, error)
}

// SearchWriter combines the read and write surfaces the search tool
// uses; *store.Client satisfies it.
type SearchWriter interface {
	searchSource
	tool.Writer
}

// NewSearchTool exposes breadcrumb queries to agents: given a schema
// name and/or tag it returns the matching documents, newest first.
func NewSearchTool(st SearchWriter) *tool.Tool {
	return tool.New("breadcrumb_search", func(ctx context.Context, input jsoniter.RawMessage, _ assemble.Bundle) (any, error) {
		var in searchInput
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("invalid search input: %w", err)
			}
		}
		if in.SchemaName == "" && in.Tag == "" {
			return nil, fmt.Errorf("need at least one of 'schema_name' or 'tag'")
		}
		limit := in.Limit
		if limit <= 0 {
			limit = searchDefaultLimit
		}

		docs, err := st.List(ctx, store.Query{
			SchemaName: in.SchemaName,
			Tag:        in.Tag,
			Limit:      limit,
		})
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		return searchOutput{Count: len(docs), Documents: docs}, nil
	}, st)
}
