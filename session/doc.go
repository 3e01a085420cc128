// Package session is the consumer-side façade over a bridge session.
//
// # Overview
//
// A Session wraps the session.* bus methods and the push event stream
// behind two calls: Send issues a user message and returns immediately,
// Receive yields the resulting stream as typed Items (system, message,
// agent_progress, result).
//
// # Usage
//
//	s, err := session.Initialize(ctx, clientBus, session.Options{})
//	if err != nil { ... }
//	defer s.Close()
//
//	s.Send("what is 6 times 7?")
//	for item := range s.Receive() {
//	    switch item.Type {
//	    case session.ItemMessage:
//	        fmt.Println(item.Message.Text())
//	    case session.ItemResult:
//	        return
//	    }
//	}
//
// # Ordering
//
// Items are delivered strictly in emission order through an unbounded
// intake queue, so a slow consumer delays itself, never the engine.
// Duplicate message uuids and events for other sessions are filtered.
//
// # Thread Safety
//
// Send and Close are safe for concurrent use. Receive's channel has a
// single logical consumer.
package session
