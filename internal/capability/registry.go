package capability

import (
	"fmt"
	"sort"

	"github.com/nextlevelbuilder/famledger/internal/intent"
)

// Builder collects handlers at startup. It is not safe for concurrent use.
type Builder struct {
	handlers map[intent.Name]Handler
	err      error
}

func NewBuilder() *Builder {
	return &Builder{handlers: make(map[intent.Name]Handler)}
}

// Register adds h under name. Registering a name twice is an error reported by Build.
func (b *Builder) Register(name intent.Name, h Handler) *Builder {
	if b.err != nil {
		return b
	}
	if name == "" || h == nil {
		b.err = fmt.Errorf("capability: invalid registration %q", name)
		return b
	}
	if _, dup := b.handlers[name]; dup {
		b.err = fmt.Errorf("capability: %q registered twice", name)
		return b
	}
	b.handlers[name] = h
	return b
}

// Build freezes the collected handlers into a Registry.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := make(map[intent.Name]Handler, len(b.handlers))
	for k, v := range b.handlers {
		m[k] = v
	}
	return &Registry{handlers: m}, nil
}

// Registry is an immutable name -> handler map. Lookups need no locking.
type Registry struct {
	handlers map[intent.Name]Handler
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name intent.Name) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []intent.Name {
	out := make([]intent.Name, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
