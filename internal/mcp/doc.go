// Package mcp exposes the ScreenPilot pipeline as Model Context Protocol
// tools over stdio, so editors and agents can ask questions about ingested
// documents and manage the corpus.
//
// Tools: ask, ingest, list_documents and delete_document. Answers are
// passed through the secret scrubber before they are returned.
package mcp
