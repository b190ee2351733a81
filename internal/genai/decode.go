package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Validatable is implemented by role response structures that can check
// their own required fields after decoding.
type Validatable interface {
	Validate() error
}

// DecodeStructured parses raw generation output into the expected structure.
// If direct parsing fails, one fallback parse strips common non-structural
// wrapping (markdown fences, surrounding prose) before re-parsing. A response
// that still fails to parse or validate yields a MalformedError.
func DecodeStructured(raw string, v any) error {
	if err := decodeAndValidate(raw, v); err == nil {
		return nil
	}

	stripped := stripWrapping(raw)
	if stripped != raw {
		if err := decodeAndValidate(stripped, v); err == nil {
			slog.Debug("genai.DecodeStructured: fallback parse succeeded after stripping wrapping")
			return nil
		}
	}

	err := decodeAndValidate(raw, v)
	slog.Warn("genai.DecodeStructured: response failed schema validation", "error", err, "rawLength", len(raw))
	return &MalformedError{Raw: raw, Err: err}
}

func decodeAndValidate(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("json parse failed: %w", err)
	}
	if validatable, ok := v.(Validatable); ok {
		if err := validatable.Validate(); err != nil {
			return fmt.Errorf("schema validation failed: %w", err)
		}
	}
	return nil
}

// stripWrapping removes markdown code fences and any prose before the first
// opening brace or after the last closing brace.
func stripWrapping(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
