// Package redact masks session tokens and passwords before text reaches a
// log or the terminal
package redact

import (
	"io"
	"regexp"
	"strings"
)

const redactedText = "[REDACTED]"

var (
	// Patterns whose first group is kept and whose second group is masked
	keyed = []*regexp.Regexp{
		// Authorization headers
		regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_.~+/=-]{8,})`),
		// Query strings: ?token=... &password=...
		regexp.MustCompile(`(?i)([?&](?:token|password)=)([^&\s"']+)`),
		// JSON fields
		regexp.MustCompile(`(?i)("(?:token|password|authToken)"\s*:\s*")([^"]+)`),
		// key=value and key: value in plain text
		regexp.MustCompile(`(?i)(\b(?:token|password)\s*[=:]\s*)([^\s,;"'&\[]{4,})`),
	}

	// JWTs are masked wherever they appear
	jwt = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)

	sensitiveEnvKeys = []string{"PASSWORD", "SECRET", "TOKEN", "KEY", "CREDENTIAL", "AUTH"}
)

// Secrets masks tokens and passwords in text
func Secrets(text string) string {
	for _, pattern := range keyed {
		text = pattern.ReplaceAllString(text, "${1}"+redactedText)
	}
	return jwt.ReplaceAllString(text, redactedText)
}

// ContainsSecret reports whether Secrets would change text
func ContainsSecret(text string) bool {
	if jwt.MatchString(text) {
		return true
	}
	for _, pattern := range keyed {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// Token shows only the last four characters of a token
func Token(token string) string {
	if token == "" {
		return "(none)"
	}
	if len(token) <= 8 {
		return redactedText
	}
	return strings.Repeat("*", 8) + token[len(token)-4:]
}

// Env masks the values of KEY=VALUE entries whose key looks sensitive
func Env(env []string) []string {
	redacted := make([]string, len(env))
	for i, e := range env {
		key, _, ok := strings.Cut(e, "=")
		if !ok {
			redacted[i] = e
			continue
		}
		upper := strings.ToUpper(key)
		redacted[i] = e
		for _, sk := range sensitiveEnvKeys {
			if strings.Contains(upper, sk) {
				redacted[i] = key + "=" + redactedText
				break
			}
		}
	}
	return redacted
}

type writer struct {
	w io.Writer
}

// NewWriter wraps w so everything written through it is passed through
// Secrets first. Intended for log output, where each write is one line.
func NewWriter(w io.Writer) io.Writer {
	return &writer{w: w}
}

func (rw *writer) Write(p []byte) (int, error) {
	if _, err := io.WriteString(rw.w, Secrets(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
