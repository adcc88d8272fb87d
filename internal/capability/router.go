package capability

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/nextlevelbuilder/famledger/internal/intent"
)

var (
	ErrNoHandler    = errors.New("capability: no handler")
	ErrHandlerPanic = errors.New("capability: handler panicked")
	ErrEmptyResult  = errors.New("capability: handler returned no result")
)

// DispatchError is any failure inside Router.Route.
type DispatchError struct {
	Intent intent.Name
	Stage  string // "lookup", "assemble", "execute"
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s (%s): %v", e.Intent, e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Assembler enriches a request before the handler sees it
// (recent turns, running summary, system prompt).
type Assembler interface {
	Assemble(ctx context.Context, req Request) (Request, error)
}

// Router resolves an intent to a handler and runs it.
type Router struct {
	registry  *Registry
	assembler Assembler
}

// NewRouter creates a router. assembler may be nil.
func NewRouter(reg *Registry, assembler Assembler) *Router {
	return &Router{registry: reg, assembler: assembler}
}

// Registry returns the router's registry.
func (r *Router) Registry() *Registry { return r.registry }

// Route runs the handler for name. Every failure, panics included, comes
// back as a *DispatchError.
func (r *Router) Route(ctx context.Context, name intent.Name, req Request) (*Result, error) {
	h, ok := r.registry.Lookup(name)
	if !ok {
		return nil, &DispatchError{Intent: name, Stage: "lookup", Err: ErrNoHandler}
	}
	req.Intent = name

	if r.assembler != nil {
		var err error
		if req, err = r.assembler.Assemble(ctx, req); err != nil {
			return nil, &DispatchError{Intent: name, Stage: "assemble", Err: err}
		}
	}

	res, err := safeExecute(ctx, h, req)
	if err != nil {
		return nil, &DispatchError{Intent: name, Stage: "execute", Err: err}
	}
	return res, nil
}

// safeExecute runs h, converting panics and nil results into errors.
func safeExecute(ctx context.Context, h Handler, req Request) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, p, debug.Stack())
		}
	}()
	res, err = h.Execute(ctx, req)
	if err == nil && res == nil {
		err = ErrEmptyResult
	}
	return res, err
}
