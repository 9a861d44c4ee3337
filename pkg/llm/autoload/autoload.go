// Package autoload registers every built-in LLM provider. Import it
// for side effects from the program entry point.
package autoload

import (
	_ "ripple/pkg/llm/gemini"
	_ "ripple/pkg/llm/ollama"
	_ "ripple/pkg/llm/openailm"
)
