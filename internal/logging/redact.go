package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// secretKeys are attribute key fragments whose values are always dropped.
var secretKeys = []string{
	"password",
	"passphrase",
	"secret",
	"private_key",
	"mnemonic",
	"keystore_json",
}

// hashKeys hold 32-byte hex values that are public (transaction and block
// hashes) and must survive redaction even though they look like raw keys.
var hashKeys = map[string]bool{
	"tx_hash":    true,
	"block_hash": true,
	"hash":       true,
	"topic":      true,
}

// rawKeyPattern matches a 0x-prefixed 32-byte hex string, the shape of a
// secp256k1 private key.
var rawKeyPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`)

// RedactingHandler strips secrets from attributes before passing records
// to the wrapped handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner. Wrapping an already redacting handler
// returns it unchanged.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	if rh, ok := inner.(*RedactingHandler); ok {
		return rh
	}
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, frag := range secretKeys {
		if strings.Contains(key, frag) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		clean := make([]any, len(group))
		for i, ga := range group {
			clean[i] = redactAttr(ga)
		}
		return slog.Group(a.Key, clean...)
	}

	if a.Value.Kind() != slog.KindString || hashKeys[key] {
		return a
	}
	val := a.Value.String()
	if redacted := rawKeyPattern.ReplaceAllStringFunc(val, maskKey); redacted != val {
		return slog.String(a.Key, redacted)
	}
	return a
}

func maskKey(match string) string {
	return match[:6] + "..." + match[len(match)-4:]
}
