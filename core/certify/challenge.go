package certify

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

// HandlerOptions is the per-domain slice of instance defaults handed to a
// challenge handler. Handlers receive it instead of the full request
// because challenge verification paths do not have access to the request.
type HandlerOptions struct {
	Domains       []string
	ChallengeType string
	Debug         bool
}

// Handler provisions and removes proof material for one challenge type.
// Implementations must be safe for concurrent use; issuance for a
// multi-domain certificate invokes them once per domain.
type Handler interface {
	// Set provisions the key authorization so the CA can verify it.
	Set(ctx context.Context, opts HandlerOptions, domain, token, keyAuth string) error

	// Get returns the currently provisioned key authorization, or an
	// empty string when none is present.
	Get(ctx context.Context, opts HandlerOptions, domain, token string) (string, error)

	// Remove cleans up the provisioned material. It runs for every
	// domain whose Set succeeded, regardless of later failures.
	Remove(ctx context.Context, opts HandlerOptions, domain, token string) error
}

// Expected shapes for dynamically supplied handler functions.
var (
	setFuncType    = reflect.TypeOf((func(context.Context, HandlerOptions, string, string, string) error)(nil))
	getFuncType    = reflect.TypeOf((func(context.Context, HandlerOptions, string, string) (string, error))(nil))
	removeFuncType = reflect.TypeOf((func(context.Context, HandlerOptions, string, string) error)(nil))
)

// NewFuncHandler adapts dynamically supplied functions into a Handler.
// Each function is validated against its documented shape at configuration
// time, so a plugin with the wrong arity fails here with
// ErrInvalidChallengeHandler instead of surfacing as an obscure error
// mid-issuance:
//
//	set    func(ctx, opts, domain, token, keyAuth) error
//	get    func(ctx, opts, domain, token) (string, error)
//	remove func(ctx, opts, domain, token) error
func NewFuncHandler(set, get, remove any) (Handler, error) {
	if err := checkFuncShape("set", set, setFuncType); err != nil {
		return nil, err
	}
	if err := checkFuncShape("get", get, getFuncType); err != nil {
		return nil, err
	}
	if err := checkFuncShape("remove", remove, removeFuncType); err != nil {
		return nil, err
	}

	return &funcHandler{
		set:    reflect.ValueOf(set),
		get:    reflect.ValueOf(get),
		remove: reflect.ValueOf(remove),
	}, nil
}

func checkFuncShape(name string, fn any, want reflect.Type) error {
	if fn == nil {
		return fmt.Errorf("%w: %s is nil, want %s", ErrInvalidChallengeHandler, name, want)
	}
	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		return fmt.Errorf("%w: %s is %s, want %s", ErrInvalidChallengeHandler, name, t, want)
	}
	if t.NumIn() != want.NumIn() || t.NumOut() != want.NumOut() {
		return fmt.Errorf("%w: %s receives the wrong number of arguments, want %s", ErrInvalidChallengeHandler, name, want)
	}
	if t != want {
		return fmt.Errorf("%w: %s has signature %s, want %s", ErrInvalidChallengeHandler, name, t, want)
	}
	if reflect.ValueOf(fn).IsNil() {
		return fmt.Errorf("%w: %s is nil, want %s", ErrInvalidChallengeHandler, name, want)
	}
	return nil
}

type funcHandler struct {
	set, get, remove reflect.Value
}

func (h *funcHandler) Set(ctx context.Context, opts HandlerOptions, domain, token, keyAuth string) error {
	out := h.set.Call([]reflect.Value{
		reflect.ValueOf(ctx), reflect.ValueOf(opts),
		reflect.ValueOf(domain), reflect.ValueOf(token), reflect.ValueOf(keyAuth),
	})
	return asError(out[0])
}

func (h *funcHandler) Get(ctx context.Context, opts HandlerOptions, domain, token string) (string, error) {
	out := h.get.Call([]reflect.Value{
		reflect.ValueOf(ctx), reflect.ValueOf(opts),
		reflect.ValueOf(domain), reflect.ValueOf(token),
	})
	return out[0].String(), asError(out[1])
}

func (h *funcHandler) Remove(ctx context.Context, opts HandlerOptions, domain, token string) error {
	out := h.remove.Call([]reflect.Value{
		reflect.ValueOf(ctx), reflect.ValueOf(opts),
		reflect.ValueOf(domain), reflect.ValueOf(token),
	})
	return asError(out[0])
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

// Dispatcher routes challenge operations to the handler registered for a
// challenge type. Registration validates handlers up front; dispatch during
// issuance can then only fail on the handler's own terms.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds a handler to a challenge type, replacing any previous
// binding for that type.
func (d *Dispatcher) Register(challengeType string, h Handler) error {
	if challengeType == "" {
		return fmt.Errorf("%w: empty challenge type", ErrInvalidChallengeHandler)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidChallengeHandler, challengeType)
	}

	d.mu.Lock()
	d.handlers[challengeType] = h
	d.mu.Unlock()
	return nil
}

// Handler returns the handler bound to a challenge type.
func (d *Dispatcher) Handler(challengeType string) (Handler, error) {
	d.mu.RLock()
	h, ok := d.handlers[challengeType]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChallengeType, challengeType)
	}
	return h, nil
}

// Set provisions challenge material for one domain.
func (d *Dispatcher) Set(ctx context.Context, challengeType string, opts HandlerOptions, domain, token, keyAuth string) error {
	h, err := d.Handler(challengeType)
	if err != nil {
		return err
	}

	d.logger.DebugContext(ctx, "setting challenge", "challenge_type", challengeType, "domain", domain)
	if err := h.Set(ctx, opts, domain, token, keyAuth); err != nil {
		return fmt.Errorf("set %s challenge for %s: %w", challengeType, domain, err)
	}
	return nil
}

// Remove cleans up challenge material for one domain.
func (d *Dispatcher) Remove(ctx context.Context, challengeType string, opts HandlerOptions, domain, token string) error {
	h, err := d.Handler(challengeType)
	if err != nil {
		return err
	}

	d.logger.DebugContext(ctx, "removing challenge", "challenge_type", challengeType, "domain", domain)
	if err := h.Remove(ctx, opts, domain, token); err != nil {
		return fmt.Errorf("remove %s challenge for %s: %w", challengeType, domain, err)
	}
	return nil
}
