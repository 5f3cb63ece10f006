package logging

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loginLine        = regexp.MustCompile(`(?i)^(\S+) (LOGIN) .*$`)
	authenticateLine = regexp.MustCompile(`(?i)^(\S+) (AUTHENTICATE \S+)( \S+)?$`)
	literalMarker    = regexp.MustCompile(`\{\d+\+?\}$`)
)

const redacted = "****"

// ProtocolWriter traces a raw IMAP exchange line by line at trace level.
// Credentials are redacted: the arguments of LOGIN, including passwords
// sent as literals on the following lines, and every client response of
// an AUTHENTICATE exchange. It is safe for concurrent use.
type ProtocolWriter struct {
	logger zerolog.Logger

	mu  sync.Mutex
	buf bytes.Buffer

	// secretTag is the tag of the LOGIN or AUTHENTICATE command in
	// progress; lines are redacted until its completion.
	secretTag string
	// literal is set when the last redacted line announced a literal,
	// which is redacted whatever it contains.
	literal bool
}

// NewProtocolWriter returns a writer tracing to logger.
func NewProtocolWriter(logger zerolog.Logger) *ProtocolWriter {
	return &ProtocolWriter{logger: Component(logger, "imap")}
}

func (w *ProtocolWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			w.buf.Reset()
			w.buf.Write(line)
			break
		}
		w.logger.Trace().Msg(w.filter(string(bytes.TrimRight(line, "\r\n"))))
	}
	return len(p), nil
}

// filter returns line as it may be logged and advances the redaction
// state.
func (w *ProtocolWriter) filter(line string) string {
	if w.secretTag == "" {
		if m := loginLine.FindStringSubmatch(line); m != nil {
			w.secretTag = m[1]
			w.literal = literalMarker.MatchString(line)
			return Redact(line)
		}
		if m := authenticateLine.FindStringSubmatch(line); m != nil {
			w.secretTag = m[1]
			w.literal = false
			return Redact(line)
		}
		return line
	}

	// Continuation requests may precede a synchronizing literal.
	if isContinuation(line) {
		return line
	}
	if w.literal {
		w.literal = literalMarker.MatchString(line)
		return redacted
	}
	if strings.HasPrefix(line, w.secretTag+" ") {
		w.secretTag = ""
		return line
	}
	if strings.HasPrefix(line, "* ") {
		return line
	}
	w.literal = literalMarker.MatchString(line)
	return redacted
}

// isContinuation reports whether line is a server continuation request.
// Base64 client responses never contain a space and are never a bare
// "+".
func isContinuation(line string) bool {
	return line == "+" || strings.HasPrefix(line, "+ ")
}

// Redact hides the secret arguments of an authentication command line.
func Redact(line string) string {
	if m := loginLine.FindStringSubmatch(line); m != nil {
		return m[1] + " " + m[2] + " " + redacted
	}
	if m := authenticateLine.FindStringSubmatch(line); m != nil {
		if m[3] == "" {
			return line
		}
		return m[1] + " " + m[2] + " " + redacted
	}
	return line
}
