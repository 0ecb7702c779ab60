package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tolelom/bidchain/core"
)

// ErrUnknownTxType is returned for a transaction type no module handles.
// Such transactions are never included in a block.
var ErrUnknownTxType = errors.New("unknown transaction type")

// Handler executes one transaction type. A returned error fails the
// transaction; ErrorCode picks its receipt code.
type Handler func(ctx *Context, payload json.RawMessage) error

// Registry maps transaction types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]Handler)}
}

// Register associates typ with h. Registering a type twice is a programming
// error and panics.
func (r *Registry) Register(typ core.TxType, h Handler) {
	if typ == "" || h == nil {
		panic("vm: Register needs a type and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[typ]; dup {
		panic(fmt.Sprintf("vm: handler already registered for %q", typ))
	}
	r.handlers[typ] = h
}

// Lookup returns the handler for typ.
func (r *Registry) Lookup(typ core.TxType) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTxType, typ)
	}
	return h, nil
}

// Types lists the registered types in sorted order.
func (r *Registry) Types() []core.TxType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.TxType, 0, len(r.handlers))
	for typ := range r.handlers {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}

// modules is the registry transaction modules add themselves to from init.
var modules = NewRegistry()

// Register adds a module handler. Modules call it from init.
func Register(typ core.TxType, h Handler) { modules.Register(typ, h) }

// Supported reports whether any linked-in module handles typ.
func Supported(typ core.TxType) bool {
	_, err := modules.Lookup(typ)
	return err == nil
}

// Types lists the transaction types of the linked-in modules.
func Types() []core.TxType { return modules.Types() }
