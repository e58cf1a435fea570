// Package memory provides the two-tier conversational memory used by agents
// and live sessions.
//
// Short-term memory is a bounded per-user buffer of recent turns. When a
// buffer overflows, its oldest half is folded into an append-only summary.
//
// Long-term memory is a journal of exchange summaries plus a vector index for
// semantic recall, scoped by (user, agent).
//
// Architecture:
//   - VectorIndex: similarity search backend (LinearIndex in process, chromem-go, Postgres)
//   - Embedder: text-to-vector conversion (Gemini, ONNX, mock)
//   - Journal: durable log of memory entries with recency reads
//   - ProfileSource: facts, preferences, medical data, tasks and events
//   - Coordinator: composes the above and never fails the conversational path
//
// Integration:
//   - RETRIEVE: agents call Retrieve and FullContext before invoking the model
//   - STORE: agents and live sessions call Store after a completed exchange
package memory
