package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor scrubs credentials from log lines. Tool arguments are logged at
// debug level and may carry keys, passwords or wallet material.
type Redactor struct {
	patterns []*regexp.Regexp
	fields   *regexp.Regexp
}

// NewRedactor creates a redactor with the default patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Provider API keys
			regexp.MustCompile(`sk-(?:ant-)?[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

			// Gateway credentials
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`),

			// Raw 32-byte hex keys
			regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`),
		},
		// JSON fields that carry secrets, e.g. "password":"x"
		fields: regexp.MustCompile(`"(?i:password|passwd|secret|shared_secret|token|access_token|refresh_token|api_key|private_key|mnemonic)"\s*:\s*"[^"]*"`),
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every match with a marker. JSON fields keep their key so
// log lines stay valid JSON.
func (r *Redactor) Redact(s string) string {
	s = r.fields.ReplaceAllStringFunc(s, redactField)
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redacted)
	}
	return s
}

var fieldKey = regexp.MustCompile(`^"[^"]*"\s*:\s*`)

func redactField(match string) string {
	key := fieldKey.FindString(match)
	return key + `"` + redacted + `"`
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success; zerolog treats a short count as an error
// even when the redacted line is shorter.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
