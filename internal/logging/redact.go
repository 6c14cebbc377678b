// Package logging wraps slog with credential redaction and request
// correlation IDs, so nothing written to a handler ever carries a private
// key, API secret, or other long credential-shaped string in the clear.
package logging

import (
	"context"
	"log/slog"
	"regexp"
)

var (
	privateKeyPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)
	secretPattern     = regexp.MustCompile(`(?i)((?:secret|passphrase|password|key)\s*[:=]\s*)(\S{20,})`)
	base64Pattern     = regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)
)

// redactString applies all three credential patterns, in order: full
// 32-byte hex values first (the highest-confidence match), then
// label-prefixed secrets, then any remaining long base64-shaped run.
func redactString(s string) string {
	s = privateKeyPattern.ReplaceAllString(s, "0x[REDACTED]")
	s = secretPattern.ReplaceAllString(s, "${1}[REDACTED]")
	s = base64Pattern.ReplaceAllStringFunc(s, func(b64 string) string {
		if len(b64) < 40 {
			return b64
		}
		return b64[:8] + "…[REDACTED]"
	})
	return s
}

// RedactingHandler wraps an slog.Handler, redacting credential-shaped
// substrings from the message and every attribute value (including nested
// group attrs) before they reach the wrapped handler.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next so every record it emits has been
// scrubbed of private keys, labeled secrets, and long base64 runs.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	rec := slog.NewRecord(r.Time, r.Level, redactString(r.Message), r.PC)
	if id, ok := CorrelationIDFromContext(ctx); ok {
		rec.AddAttrs(slog.String("correlation_id", id))
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, rec)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, redactString(v.String()))
	case slog.KindGroup:
		attrs := v.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	default:
		return a
	}
}
