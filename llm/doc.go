// Package llm provides LLM backend implementations for the tdev package.
//
// # Backends
//
// The Anthropic backend is a direct HTTP client:
//
//	backend := llm.NewAnthropic()  // Uses ANTHROPIC_API_KEY env var
//
//	// Or with custom model
//	backend := llm.NewAnthropic(llm.WithModel("claude-opus-4-20250514"))
//
// The OpenAI backend wraps the go-openai SDK and also works against
// OpenAI-compatible endpoints:
//
//	backend := llm.NewOpenAI(llm.WithOpenAIBaseURL("http://localhost:11434/v1"))
//
// # Failover
//
// A Router tries backends in order, moving to the next one on transient
// failures (rate limits, overload, transport errors):
//
//	router := llm.NewRouter()
//	router.Register("anthropic", llm.NewAnthropic())
//	router.Register("openai", llm.NewOpenAI())
//
// # Implementing custom backends
//
// Implement the LLM interface:
//
//	type LLM interface {
//	    Generate(ctx context.Context, req Request) (*Response, error)
//	}
package llm
