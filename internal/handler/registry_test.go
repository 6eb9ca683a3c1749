package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsp-framework/internal/lsperr"
)

func testRequest(method, language string, mutating bool) *Handler {
	return NewRequest(Info{Method: method, Language: language, Mutating: mutating},
		func(ctx context.Context, rctx *Context, params *echoParams) (string, error) {
			return language, nil
		})
}

func testNotification(method, language string) *Handler {
	return NewNotification(Info{Method: method, Language: language},
		func(ctx context.Context, rctx *Context, params *echoParams) error {
			return nil
		})
}

func TestNewRegistry_Valid(t *testing.T) {
	r, err := NewRegistry(
		testRequest("textDocument/hover", LanguageDefault, false),
		testRequest("textDocument/hover", "go", false),
		testNotification("textDocument/didOpen", LanguageDefault),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"textDocument/didOpen", "textDocument/hover"}, r.Methods())
	assert.True(t, r.Known("textDocument/hover"))
	assert.False(t, r.Known("textDocument/definition"))
}

func TestNewRegistry_DuplicateRegistration(t *testing.T) {
	_, err := NewRegistry(
		testRequest("textDocument/hover", "go", false),
		testRequest("textDocument/hover", "go", false),
	)
	require.Error(t, err)
	assert.True(t, lsperr.IsRegistrationError(err))
	assert.Contains(t, err.Error(), "duplicate registration")
}

func TestNewRegistry_EmptyMethod(t *testing.T) {
	_, err := NewRegistry(testRequest("", LanguageDefault, false))
	require.Error(t, err)
	assert.True(t, lsperr.IsRegistrationError(err))
	assert.Contains(t, err.Error(), "empty method")
}

func TestNewRegistry_ShapeDisagreement(t *testing.T) {
	_, err := NewRegistry(
		testRequest("workspace/thing", "go", false),
		testNotification("workspace/thing", "python"),
	)
	require.Error(t, err)
	assert.True(t, lsperr.IsRegistrationError(err))
	assert.Contains(t, err.Error(), "disagree on shape")
}

func TestNewRegistry_MutatingDisagreement(t *testing.T) {
	_, err := NewRegistry(
		testRequest("workspace/apply", "go", true),
		testRequest("workspace/apply", "python", false),
	)
	require.Error(t, err)
	assert.True(t, lsperr.IsRegistrationError(err))
	assert.Contains(t, err.Error(), "mutating flag")
}

func TestNewRegistry_MultiLanguageRequiresDefault(t *testing.T) {
	_, err := NewRegistry(
		testRequest("textDocument/hover", "go", false),
		testRequest("textDocument/hover", "python", false),
	)
	require.Error(t, err)
	assert.True(t, lsperr.IsRegistrationError(err))
	assert.Contains(t, err.Error(), "no default entry")

	// The same registration set with a default entry is fine.
	_, err = NewRegistry(
		testRequest("textDocument/hover", "go", false),
		testRequest("textDocument/hover", "python", false),
		testRequest("textDocument/hover", LanguageDefault, false),
	)
	require.NoError(t, err)
}

func TestNewRegistry_AggregatesErrors(t *testing.T) {
	_, err := NewRegistry(
		testRequest("a/one", "go", false),
		testRequest("a/one", "go", false),
		testRequest("b/two", "go", false),
		testRequest("b/two", "python", false),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a/one")
	assert.Contains(t, err.Error(), "b/two")
}

func TestRegistry_Resolve(t *testing.T) {
	goHandler := testRequest("textDocument/hover", "go", false)
	defaultHandler := testRequest("textDocument/hover", LanguageDefault, false)
	r, err := NewRegistry(goHandler, defaultHandler)
	require.NoError(t, err)

	h, err := r.Resolve("textDocument/hover", "go")
	require.NoError(t, err)
	assert.Same(t, goHandler, h)

	// Languages without their own entry fall back to the default.
	h, err = r.Resolve("textDocument/hover", "python")
	require.NoError(t, err)
	assert.Same(t, defaultHandler, h)

	h, err = r.Resolve("textDocument/hover", LanguageDefault)
	require.NoError(t, err)
	assert.Same(t, defaultHandler, h)
}

func TestRegistry_Resolve_UnknownMethod(t *testing.T) {
	r, err := NewRegistry(testRequest("textDocument/hover", LanguageDefault, false))
	require.NoError(t, err)

	_, err = r.Resolve("textDocument/definition", "go")
	require.Error(t, err)
	assert.True(t, lsperr.IsMethodNotFoundError(err))
}

func TestRegistry_Resolve_NoHandlerForLanguage(t *testing.T) {
	r, err := NewRegistry(testRequest("textDocument/hover", "go", false))
	require.NoError(t, err)

	_, err = r.Resolve("textDocument/hover", "python")
	require.Error(t, err)
	assert.True(t, lsperr.IsResolutionError(err))
}

func TestRegistry_Default(t *testing.T) {
	goHandler := testRequest("textDocument/hover", "go", false)
	defaultHandler := testRequest("textDocument/hover", LanguageDefault, false)
	r, err := NewRegistry(goHandler, defaultHandler)
	require.NoError(t, err)

	h, ok := r.Default("textDocument/hover")
	require.True(t, ok)
	assert.Same(t, defaultHandler, h)

	// A single language-specific entry serves as the probe handler.
	r, err = NewRegistry(goHandler)
	require.NoError(t, err)
	h, ok = r.Default("textDocument/hover")
	require.True(t, ok)
	assert.Same(t, goHandler, h)

	_, ok = r.Default("textDocument/definition")
	assert.False(t, ok)
}
