// Package secrets redacts credentials from document text before it is chunked
// and embedded, so API keys pasted into a page never reach the vector store or
// a generation prompt.
//
// Detection runs a compact built-in rule set and, when enabled, the full
// gitleaks default ruleset on top of it.
package secrets
