package helpers

import (
	"bytes"
	"testing"

	"github.com/emersion/go-message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseMessage(t *testing.T, raw string) *message.Entity {
	t.Helper()
	entity, err := message.Read(bytes.NewReader([]byte(raw)))
	require.NoError(t, err)
	return entity
}

func TestExtractTextBodyPlain(t *testing.T) {
	raw := "Content-Type: text/plain; charset=utf-8\r\n" +
		"Subject: invoice\r\n" +
		"\r\n" +
		"Your invoice total is 42.00 EUR.\r\n"

	body := ExtractTextBody(parseMessage(t, raw))
	assert.Equal(t, "Your invoice total is 42.00 EUR.", body)
}

func TestExtractTextBodyPrefersPlainOverHTML(t *testing.T) {
	raw := "Content-Type: multipart/alternative; boundary=frontier\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain version\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>html version</p>\r\n" +
		"--frontier--\r\n"

	body := ExtractTextBody(parseMessage(t, raw))
	assert.Equal(t, "plain version", body)
}

func TestExtractTextBodyFallsBackToHTML(t *testing.T) {
	raw := "Content-Type: text/html\r\n" +
		"\r\n" +
		"<html><body><p>Hello <b>there</b></p></body></html>\r\n"

	body := ExtractTextBody(parseMessage(t, raw))
	assert.Contains(t, body, "Hello")
	assert.Contains(t, body, "there")
	assert.NotContains(t, body, "<p>")
}

func TestExtractTextBodyNoTextParts(t *testing.T) {
	raw := "Content-Type: application/octet-stream\r\n" +
		"\r\n" +
		"\x00\x01\x02\r\n"

	body := ExtractTextBody(parseMessage(t, raw))
	assert.Empty(t, body)
}
