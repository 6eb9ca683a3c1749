// Package handler defines method handler descriptors, their typed
// constructors, and the registry that resolves a handler for a
// (method, language) pair.
//
// A Handler is built once at startup from a strongly typed function;
// the generic constructors erase the parameter and result types behind
// an invoker closure so the queue can treat every handler uniformly.
package handler

import (
	"context"
	"encoding/json"

	encjson "github.com/segmentio/encoding/json"
	"github.com/tidwall/gjson"
	"go.lsp.dev/uri"

	"lsp-framework/internal/lsperr"
)

// LanguageDefault registers a handler as the fallback for every
// language that has no handler of its own for the method.
const LanguageDefault = "default"

// Kind is the calling shape of a handler.
type Kind int

const (
	// KindRequest takes params and returns a result.
	KindRequest Kind = iota
	// KindRequestNoParams returns a result without params.
	KindRequestNoParams
	// KindNotification takes params and returns no result.
	KindNotification
	// KindNotificationNoParams takes neither params nor result.
	KindNotificationNoParams
)

// Notification reports whether the kind produces no result.
func (k Kind) Notification() bool {
	return k == KindNotification || k == KindNotificationNoParams
}

// HasParams reports whether the kind consumes request params.
func (k Kind) HasParams() bool {
	return k == KindRequest || k == KindNotification
}

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindRequestNoParams:
		return "request-no-params"
	case KindNotification:
		return "notification"
	case KindNotificationNoParams:
		return "notification-no-params"
	default:
		return "unknown"
	}
}

// Info is the static metadata a handler registers with.
type Info struct {
	// Method is the LSP method name, e.g. "textDocument/didOpen".
	Method string
	// Language the handler serves; LanguageDefault (or empty) makes it
	// the fallback entry for the method.
	Language string
	// Mutating handlers run inline on the queue loop, one at a time,
	// and are allowed to change tracked state.
	Mutating bool
	// RequiresSolution pins the host solution for requests that carry
	// no document URI.
	RequiresSolution bool
}

// Handler is an immutable method handler descriptor: metadata, a
// document-URI accessor used during the queue's resolution phase, and
// the type-erased invoker.
type Handler struct {
	info   Info
	kind   Kind
	docURI func(raw json.RawMessage) (uri.URI, bool)
	invoke func(ctx context.Context, rctx *Context, raw json.RawMessage) (interface{}, error)
}

// Info returns the registration metadata.
func (h *Handler) Info() Info { return h.info }

// Method returns the method the handler serves.
func (h *Handler) Method() string { return h.info.Method }

// Language returns the language the handler is registered for.
func (h *Handler) Language() string { return h.info.Language }

// Mutating reports whether the handler must run serialized.
func (h *Handler) Mutating() bool { return h.info.Mutating }

// Kind returns the calling shape.
func (h *Handler) Kind() Kind { return h.kind }

// DocumentURI extracts the document URI from raw params, when the
// request addresses one. Handlers without params never report a URI.
func (h *Handler) DocumentURI(raw json.RawMessage) (uri.URI, bool) {
	if !h.kind.HasParams() {
		return "", false
	}
	return h.docURI(raw)
}

// Invoke decodes params per the handler's shape and calls the typed
// function. Notifications return a nil result.
func (h *Handler) Invoke(ctx context.Context, rctx *Context, raw json.RawMessage) (interface{}, error) {
	return h.invoke(ctx, rctx, raw)
}

// Option customizes a handler at construction.
type Option func(*Handler)

// WithDocumentURI attaches a typed document-URI accessor, replacing
// the default textDocument.uri probe. Returning an empty URI means the
// request addresses no document.
func WithDocumentURI[P any](fn func(*P) uri.URI) Option {
	return func(h *Handler) {
		h.docURI = func(raw json.RawMessage) (uri.URI, bool) {
			p, err := decode[P](h.info.Method, raw)
			if err != nil || p == nil {
				return "", false
			}
			u := fn(p)
			return u, u != ""
		}
	}
}

// defaultDocumentURI probes raw params for the conventional
// textDocument.uri field without decoding the full params type.
func defaultDocumentURI(raw json.RawMessage) (uri.URI, bool) {
	if len(raw) == 0 {
		return "", false
	}
	res := gjson.GetBytes(raw, "textDocument.uri")
	if !res.Exists() || res.String() == "" {
		return "", false
	}
	return uri.URI(res.String()), true
}

// decode unmarshals raw params into *P. Absent params decode to nil.
func decode[P any](method string, raw json.RawMessage) (*P, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	p := new(P)
	if err := encjson.Unmarshal(raw, p); err != nil {
		return nil, lsperr.NewInvalidParamsError(method, err)
	}
	return p, nil
}

func newHandler(info Info, kind Kind, invoke func(ctx context.Context, rctx *Context, raw json.RawMessage) (interface{}, error), opts []Option) *Handler {
	if info.Language == "" {
		info.Language = LanguageDefault
	}
	h := &Handler{
		info:   info,
		kind:   kind,
		docURI: defaultDocumentURI,
		invoke: invoke,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRequest builds a request handler taking params P and returning
// result R.
func NewRequest[P, R any](info Info, fn func(ctx context.Context, rctx *Context, params *P) (R, error), opts ...Option) *Handler {
	invoke := func(ctx context.Context, rctx *Context, raw json.RawMessage) (interface{}, error) {
		p, err := decode[P](info.Method, raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, rctx, p)
	}
	return newHandler(info, KindRequest, invoke, opts)
}

// NewRequestNoParams builds a request handler that takes no params.
func NewRequestNoParams[R any](info Info, fn func(ctx context.Context, rctx *Context) (R, error), opts ...Option) *Handler {
	invoke := func(ctx context.Context, rctx *Context, _ json.RawMessage) (interface{}, error) {
		return fn(ctx, rctx)
	}
	return newHandler(info, KindRequestNoParams, invoke, opts)
}

// NewNotification builds a notification handler taking params P.
func NewNotification[P any](info Info, fn func(ctx context.Context, rctx *Context, params *P) error, opts ...Option) *Handler {
	invoke := func(ctx context.Context, rctx *Context, raw json.RawMessage) (interface{}, error) {
		p, err := decode[P](info.Method, raw)
		if err != nil {
			return nil, err
		}
		return nil, fn(ctx, rctx, p)
	}
	return newHandler(info, KindNotification, invoke, opts)
}

// NewNotificationNoParams builds a notification handler that takes no
// params.
func NewNotificationNoParams(info Info, fn func(ctx context.Context, rctx *Context) error, opts ...Option) *Handler {
	invoke := func(ctx context.Context, rctx *Context, _ json.RawMessage) (interface{}, error) {
		return nil, fn(ctx, rctx)
	}
	return newHandler(info, KindNotificationNoParams, invoke, opts)
}
