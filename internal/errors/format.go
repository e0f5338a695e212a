package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ve, ok := as(err)
	if !ok {
		ve = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ve.Message)
	if ve.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ve.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ve.Code)
	return sb.String()
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ve, ok := as(err)
	if !ok {
		ve = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ve.Code,
		Message:    ve.Message,
		Category:   string(ve.Category),
		Severity:   string(ve.Severity),
		Details:    ve.Details,
		Suggestion: ve.Suggestion,
		Retryable:  ve.Retryable,
	}
	if ve.Cause != nil {
		je.Cause = ve.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttr returns err as a grouped slog attribute. Plain errors log their
// message only; VaultErrors add code, category and details.
func LogAttr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}

	ve, ok := as(err)
	if !ok {
		return slog.String("error", err.Error())
	}

	attrs := []any{
		slog.String("code", ve.Code),
		slog.String("message", ve.Message),
		slog.String("category", string(ve.Category)),
	}
	if ve.Cause != nil {
		attrs = append(attrs, slog.String("cause", ve.Cause.Error()))
	}
	for k, v := range ve.Details {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.Group("error", attrs...)
}
