// Package embeddings turns text into vectors.
//
// Two providers are available:
//
//   - openai: any OpenAI-compatible /v1/embeddings endpoint (Friendli by
//     default), with batching, bounded retries and client-side rate limiting.
//   - fastembed: local ONNX models via fastembed-go. Requires a cgo build and
//     the ONNX runtime (ONNX_PATH or ~/.config/screenpilot/lib).
//
// Every provider returns one vector per input, in input order.
package embeddings
