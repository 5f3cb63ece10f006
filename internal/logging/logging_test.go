package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcmd/internal/model"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(model.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"time":`)
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(model.LogConfig{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)

	scanner := Component(logger, "scanner")
	scanner.Debug().Int("matched", 0).Msg("processed messages")

	out := buf.String()
	assert.Contains(t, out, "processed messages")
	assert.Contains(t, out, "component=scanner")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(model.LogConfig{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)

	_, err = New(model.LogConfig{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "a1 LOGIN ****", Redact(`a1 LOGIN bot@example.org "s3cret"`))
	assert.Equal(t, "T2 AUTHENTICATE PLAIN ****", Redact("T2 AUTHENTICATE PLAIN AGJvdABzM2NyZXQ="))
	assert.Equal(t, "T3 SELECT INBOX", Redact("T3 SELECT INBOX"))
}

func TestProtocolWriterSplitsLines(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	w := NewProtocolWriter(zerolog.New(&buf).Level(zerolog.TraceLevel))

	_, err := w.Write([]byte("T1 LOGIN bot secret\r\n* OK "))
	require.NoError(t, err)
	_, err = w.Write([]byte("ready\r\n"))
	require.NoError(t, err)

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "T1 LOGIN ****")
	assert.NotContains(t, out, "secret")
	assert.Contains(t, lines[1], "* OK ready")
}

// traceMessages feeds chunks through a ProtocolWriter and returns the
// logged messages in order.
func traceMessages(t *testing.T, chunks ...string) []string {
	t.Helper()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	w := NewProtocolWriter(zerolog.New(&buf).Level(zerolog.TraceLevel))
	for _, c := range chunks {
		_, err := w.Write([]byte(c))
		require.NoError(t, err)
	}

	var out []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec.Message)
	}
	return out
}

func TestProtocolWriterRedactsLoginLiteral(t *testing.T) {
	got := traceMessages(t,
		"T1 LOGIN owner {17}\r\n",
		"+ Ready for literal data\r\n",
		"pässwörd-secret\r\n",
		"T1 OK LOGIN completed\r\n",
		"T2 SELECT INBOX\r\n",
	)

	assert.Equal(t, []string{
		"T1 LOGIN ****",
		"+ Ready for literal data",
		"****",
		"T1 OK LOGIN completed",
		"T2 SELECT INBOX",
	}, got)
}

func TestProtocolWriterRedactsChainedLiterals(t *testing.T) {
	got := traceMessages(t,
		"T1 LOGIN {5+}\r\nowner {6+}\r\nsecret\r\n",
		"T1 OK done\r\n",
	)

	assert.Equal(t, []string{"T1 LOGIN ****", "****", "****", "T1 OK done"}, got)
}

func TestProtocolWriterRedactsAuthenticateContinuation(t *testing.T) {
	got := traceMessages(t,
		"T1 AUTHENTICATE PLAIN\r\n",
		"+ \r\n",
		"AG93bmVyAHNlY3JldA==\r\n",
		"* CAPABILITY IMAP4rev1\r\n",
		"T1 OK authenticated\r\n",
		"T2 NOOP\r\n",
	)

	assert.Equal(t, []string{
		"T1 AUTHENTICATE PLAIN",
		"+ ",
		"****",
		"* CAPABILITY IMAP4rev1",
		"T1 OK authenticated",
		"T2 NOOP",
	}, got)
}
