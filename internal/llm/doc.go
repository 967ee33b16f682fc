// Package llm defines the provider neutral chat model contract used by the
// runner: multi-message requests with tool declarations and responses that
// carry text, tool calls or both. Provider adapters live in sub-packages.
package llm
