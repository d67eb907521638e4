// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs so the orchestrator only deals with a
// prompt-in, text-out contract.
package llm
