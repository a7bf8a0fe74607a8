// Package applogic holds the pluggable payload handlers dispatched by
// the engine's application-logic type.
package applogic

import (
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
)

// ErrMalformed reports a payload too short or otherwise undecodable for
// the selected handler.
var ErrMalformed = errors.New("malformed payload")

// Handler inspects a read-only application payload and returns either a
// response body to transmit or nil for no response.
type Handler interface {
	Name() string
	Handle(payload []byte) ([]byte, error)
}

// Registry maps logic-type tags to handlers. It is populated at startup
// and read-only afterwards, so lookups need no lock.
type Registry struct {
	handlers map[uint8]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint8]Handler)}
}

func (r *Registry) Register(typ uint8, h Handler) error {
	if _, dup := r.handlers[typ]; dup {
		return fmt.Errorf("handler type %d already registered", typ)
	}
	r.handlers[typ] = h
	return nil
}

func (r *Registry) Lookup(typ uint8) (Handler, bool) {
	h, ok := r.handlers[typ]
	return h, ok
}

// DefaultRegistry returns a registry with the built-in handlers.
func DefaultRegistry(clock clockwork.Clock) *Registry {
	r := NewRegistry()
	_ = r.Register(TypeMarketData, NewMarketDataHandler(clock))
	return r
}
