// Package redact scrubs secret values (API keys, SMTP passwords, webhook
// URLs) out of text before it reaches logs, alerts or HTTP responses.
package redact

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// SecretEnvVars are the environment variables whose values are never echoed.
var SecretEnvVars = []string{
	"CONGRESS_API_KEY",
	"SMTP_PASSWORD",
	"SLACK_WEBHOOK_URL",
	"GENERIC_WEBHOOK_URL",
}

// Filter replaces known secret values with [REDACTED:NAME] placeholders.
type Filter struct {
	replacements map[string]string // secret value -> "[REDACTED:NAME]"
}

// FromEnv builds a Filter from the values of SecretEnvVars plus any extra
// variable names. Both raw and URL-encoded forms are registered. Values
// shorter than 4 characters are registered with a warning because they are
// likely to produce false positives.
func FromEnv(extra ...string) *Filter {
	f := &Filter{replacements: make(map[string]string)}
	for _, name := range append(append([]string{}, SecretEnvVars...), extra...) {
		f.Add(name, os.Getenv(name))
	}
	return f
}

// Add registers value under name. Empty values are ignored.
func (f *Filter) Add(name, value string) {
	if value == "" {
		return
	}
	if len(value) < 4 {
		slog.Warn("short secret value registered for redaction", "name", name)
	}
	f.replacements[value] = "[REDACTED:" + name + "]"
	if encoded := url.QueryEscape(value); encoded != value {
		f.replacements[encoded] = "[REDACTED:" + name + ":urlencoded]"
	}
}

// Redact returns input with every registered secret replaced. A nil or empty
// Filter passes input through unchanged.
func (f *Filter) Redact(input string) string {
	if f == nil || len(f.replacements) == 0 {
		return input
	}
	result := input
	for value, placeholder := range f.replacements {
		result = strings.ReplaceAll(result, value, placeholder)
	}
	return result
}
