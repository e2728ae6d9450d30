// Package transport defines the request/response collaborator the engine
// dispatches through: send a named request along a forwarding path, receive
// the named payload or a timeout. Reliability, validation, and wire encoding
// live behind this interface.
package transport

import (
	"time"

	"github.com/google/uuid"
	enc "github.com/named-data/ndnd/std/encoding"
)

// Responder answers inbound requests for a registered prefix. It returns the
// payload for a held name, or ok=false to stay silent.
type Responder func(n enc.Name) (payload []byte, ok bool)

// Request is one outstanding attempt to retrieve a name along a path. The
// attempt ID distinguishes re-dispatches of the same name.
type Request struct {
	ID   uuid.UUID
	Name enc.Name
	Path enc.Name

	// Exactly one of the two fires, from inside ProcessEvents.
	OnData    func(n enc.Name, payload []byte)
	OnTimeout func(n enc.Name, path enc.Name)
}

// Transport is the network collaborator consumed by the engine. Express is
// non-blocking; all callbacks fire one at a time from ProcessEvents, so a
// single-threaded caller never sees concurrent mutation.
type Transport interface {
	// Express hands a request to the network. It never blocks.
	Express(req *Request) error

	// Register installs a responder for every inbound request under prefix.
	Register(prefix enc.Name, r Responder) error

	// Unregister removes a previously registered responder.
	Unregister(prefix enc.Name) error

	// ProcessEvents delivers ready events, invoking request callbacks and
	// responders. A zero timeout processes exactly what is already ready
	// and does not wait for more.
	ProcessEvents(timeout time.Duration) error
}
