// Package audit relays security-relevant auth events to a sink without
// blocking the request path.
//
// The [Dispatcher] owns a buffered channel and one delivery goroutine. When
// the buffer is full it either drops the event (counted) or blocks the
// emitter until space frees up or the context ends. Which events exist and
// when they fire is decided by the engine, not here.
package audit
