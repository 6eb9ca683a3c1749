package handler

import (
	"errors"
	"sort"

	"go.uber.org/multierr"

	"lsp-framework/internal/lsperr"
)

var errNoLanguageHandler = errors.New("no handler registered for the language")

// Registry resolves handlers by (method, language). It is built once
// and never mutated afterwards, so lookups need no locking.
type Registry struct {
	byMethod map[string]map[string]*Handler
}

// NewRegistry validates and indexes the given handlers. Configuration
// errors are aggregated so a misconfigured server reports every
// problem at once: duplicate (method, language) registrations, a
// method registered for several languages without a default entry, and
// handlers of one method disagreeing on Kind or on Mutating.
func NewRegistry(handlers ...*Handler) (*Registry, error) {
	byMethod := make(map[string]map[string]*Handler)
	var errs []error

	for _, h := range handlers {
		method := h.Method()
		if method == "" {
			errs = append(errs, lsperr.NewRegistrationError(method, "empty method name"))
			continue
		}
		langs, ok := byMethod[method]
		if !ok {
			langs = make(map[string]*Handler)
			byMethod[method] = langs
		}
		if _, dup := langs[h.Language()]; dup {
			errs = append(errs, lsperr.NewRegistrationError(method,
				"duplicate registration for language %q", h.Language()))
			continue
		}
		for _, other := range langs {
			if other.Kind() != h.Kind() {
				errs = append(errs, lsperr.NewRegistrationError(method,
					"handlers disagree on shape: %s vs %s", other.Kind(), h.Kind()))
			}
			if other.Mutating() != h.Mutating() {
				errs = append(errs, lsperr.NewRegistrationError(method,
					"handlers disagree on the mutating flag"))
			}
			break
		}
		langs[h.Language()] = h
	}

	for method, langs := range byMethod {
		if len(langs) > 1 {
			if _, ok := langs[LanguageDefault]; !ok {
				errs = append(errs, lsperr.NewRegistrationError(method,
					"registered for %d languages but has no default entry", len(langs)))
			}
		}
	}

	if len(errs) > 0 {
		return nil, multierr.Combine(errs...)
	}
	return &Registry{byMethod: byMethod}, nil
}

// Known reports whether any handler serves the method.
func (r *Registry) Known(method string) bool {
	_, ok := r.byMethod[method]
	return ok
}

// Resolve picks the handler for a (method, language) pair, falling
// back to the method's default-language entry. An unknown method is a
// request-local error; a known method with no handler for the language
// is a resolution failure.
func (r *Registry) Resolve(method, language string) (*Handler, error) {
	langs, ok := r.byMethod[method]
	if !ok {
		return nil, lsperr.NewMethodNotFoundError(method)
	}
	if h, ok := langs[language]; ok {
		return h, nil
	}
	if h, ok := langs[LanguageDefault]; ok {
		return h, nil
	}
	return nil, lsperr.NewResolutionError(method, language, errNoLanguageHandler)
}

// Default returns the entry used before the language is known, e.g.
// for document-URI extraction. It prefers the default-language handler
// and otherwise picks the first language alphabetically, which is
// deterministic and safe because all handlers of a method share one
// shape.
func (r *Registry) Default(method string) (*Handler, bool) {
	langs, ok := r.byMethod[method]
	if !ok {
		return nil, false
	}
	if h, ok := langs[LanguageDefault]; ok {
		return h, true
	}
	names := make([]string, 0, len(langs))
	for lang := range langs {
		names = append(names, lang)
	}
	sort.Strings(names)
	return langs[names[0]], true
}

// Methods returns every registered method, sorted.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.byMethod))
	for m := range r.byMethod {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
