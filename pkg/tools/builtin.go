// Package tools provides the built-in tool components shipped with the
// runtime. Each is a plain function wrapped by pkg/tool; operators add
// more by constructing their own tool.Tool values.
package tools

import (
	"ripple/pkg/store"
	"ripple/pkg/tool"
)

// BuiltIn returns the standard tool set: shell command execution and
// breadcrumb search.
func BuiltIn(st *store.Client) []*tool.Tool {
	return []*tool.Tool{
		NewShellTool(st),
		NewSearchTool(st),
	}
}
