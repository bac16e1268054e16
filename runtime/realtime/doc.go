// Package realtime is a client for duplex realtime voice sessions over
// WebSocket, speaking the OpenAI-compatible realtime event protocol used by
// Qwen Omni.
//
// A Client owns one logical session. Connect performs the handshake and
// sends a session.update matching the configured Mode: manual sessions
// disable server turn detection with an explicit null, continuous sessions
// enable server VAD without automatic responses. Server events are decoded
// and delivered to the OnEvent handler in arrival order.
//
// All outbound traffic goes through a single writer goroutine. Audio frames
// are queued without blocking and dropped when the queue is full; control
// messages block until queued. When the connection drops the client emits
// EventDisconnected, reconnects with exponential backoff and emits
// EventReconnected with the new session, or EventConnectionLost once the
// attempts are exhausted.
//
// Cancelling a response races with its natural completion. CancelAndWait
// treats the server's "no active response" error as success and reports
// CancelUnacknowledged if neither reply arrives in time.
package realtime
