package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ge, ok := AsGateError(err)
	if !ok {
		// Wrap standard error
		ge = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	// Error message with code
	sb.WriteString(fmt.Sprintf("Error: %s\n", ge.Message))

	// Suggestion if available
	if ge.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ge.Suggestion))
	}

	// Code reference
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ge.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
// Suitable for machine consumption and structured logging.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ge, ok := AsGateError(err)
	if !ok {
		// Wrap standard error
		ge = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ge.Code,
		Kind:       string(ge.Kind),
		Message:    ge.Message,
		Severity:   string(ge.Severity),
		Details:    ge.Details,
		Suggestion: ge.Suggestion,
		Retryable:  ge.Retryable,
	}

	if ge.Cause != nil {
		je.Cause = ge.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	ge, ok := AsGateError(err)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": ge.Code,
		"kind":       string(ge.Kind),
		"message":    ge.Message,
		"severity":   string(ge.Severity),
		"retryable":  ge.Retryable,
	}

	if ge.Cause != nil {
		result["cause"] = ge.Cause.Error()
	}

	if ge.Suggestion != "" {
		result["suggestion"] = ge.Suggestion
	}

	for k, v := range ge.Details {
		result["detail_"+k] = v
	}

	return result
}
