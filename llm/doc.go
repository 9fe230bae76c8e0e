// Package llm defines the provider-agnostic AI request protocol used by
// the Loom engine, plus retry handling and the Anthropic backend.
//
// The engine never talks to a provider directly: it suspends with a
// pending request, and the driver turns that into a Request and calls a
// Provider. All wire-format detail stays behind the Provider interface;
// adding a backend means implementing Execute and GenerateCode and
// classifying failures via ProviderError.
//
// Retries are local to one request: WithRetry applies exponential backoff
// to errors the adapter tagged retryable and surfaces everything else
// unchanged.
package llm
