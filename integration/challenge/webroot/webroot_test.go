package webroot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certlift/core/certify"
	"github.com/dmitrymomot/certlift/integration/challenge/webroot"
)

func TestSetGetRemove(t *testing.T) {
	root := t.TempDir()
	handler := webroot.New(root)
	ctx := context.Background()
	opts := certify.HandlerOptions{Domains: []string{"example.com"}, ChallengeType: certify.ChallengeHTTP01}

	require.NoError(t, handler.Set(ctx, opts, "example.com", "token-1", "token-1.keyauth"))

	// The CA fetches the key authorization from the well-known path.
	data, err := os.ReadFile(filepath.Join(root, ".well-known", "acme-challenge", "token-1"))
	require.NoError(t, err)
	assert.Equal(t, "token-1.keyauth", string(data))

	got, err := handler.Get(ctx, opts, "example.com", "token-1")
	require.NoError(t, err)
	assert.Equal(t, "token-1.keyauth", got)

	require.NoError(t, handler.Remove(ctx, opts, "example.com", "token-1"))
	_, err = os.Stat(filepath.Join(root, ".well-known", "acme-challenge", "token-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestGetMissingTokenReturnsEmpty(t *testing.T) {
	handler := webroot.New(t.TempDir())

	got, err := handler.Get(context.Background(), certify.HandlerOptions{}, "example.com", "absent")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveMissingTokenIsNoop(t *testing.T) {
	handler := webroot.New(t.TempDir())

	assert.NoError(t, handler.Remove(context.Background(), certify.HandlerOptions{}, "example.com", "absent"))
}

func TestRejectsPathTraversalTokens(t *testing.T) {
	root := t.TempDir()
	handler := webroot.New(root)
	ctx := context.Background()

	for _, token := range []string{"", "../escape", "a/b", `a\b`, "a..b"} {
		t.Run(token, func(t *testing.T) {
			err := handler.Set(ctx, certify.HandlerOptions{}, "example.com", token, "keyauth")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid challenge token")
		})
	}
}
