// Package webroot implements an HTTP-01 certify.Handler that provisions
// key authorizations as files under a webroot, where the CA expects them at
// /.well-known/acme-challenge/<token>.
package webroot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrymomot/certlift/core/certify"
)

const challengePrefix = ".well-known/acme-challenge"

// Handler writes challenge files into a webroot served over plain HTTP on
// the domain being validated.
type Handler struct {
	root string
}

// New creates a webroot handler. The directory must be served by the HTTP
// server answering for the validated domains.
func New(root string) *Handler {
	return &Handler{root: root}
}

func (h *Handler) Set(ctx context.Context, opts certify.HandlerOptions, domain, token, keyAuth string) error {
	path, err := h.challengePath(token)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create challenge directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(keyAuth), 0o644); err != nil {
		return fmt.Errorf("write challenge for %s: %w", domain, err)
	}
	return nil
}

func (h *Handler) Get(ctx context.Context, opts certify.HandlerOptions, domain, token string) (string, error) {
	path, err := h.challengePath(token)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read challenge for %s: %w", domain, err)
	}
	return string(data), nil
}

func (h *Handler) Remove(ctx context.Context, opts certify.HandlerOptions, domain, token string) error {
	path, err := h.challengePath(token)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove challenge for %s: %w", domain, err)
	}
	return nil
}

// challengePath rejects tokens that would escape the webroot.
func (h *Handler) challengePath(token string) (string, error) {
	if token == "" || strings.ContainsAny(token, "/\\") || strings.Contains(token, "..") {
		return "", fmt.Errorf("invalid challenge token %q", token)
	}
	return filepath.Join(h.root, challengePrefix, token), nil
}
