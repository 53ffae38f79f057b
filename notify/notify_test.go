package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochj23/mailsummary/config"
)

func TestNewFromConfig(t *testing.T) {
	n, err := NewFromConfig(config.NotifierConfig{})
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n, "empty backend defaults to log")

	n, err = NewFromConfig(config.NotifierConfig{Backend: "smtp", SMTPAddress: "mail.example.com:587"})
	require.NoError(t, err)
	assert.IsType(t, &SMTPNotifier{}, n)

	_, err = NewFromConfig(config.NotifierConfig{Backend: "pigeon"})
	require.Error(t, err)
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{}
	assert.NoError(t, n.Notify(context.Background(), "rule fired", "details"))
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("bot@example.com", "me@example.com", "rule fired", "2 messages archived"))

	assert.True(t, strings.HasPrefix(msg, "From: bot@example.com\r\n"))
	assert.Contains(t, msg, "Subject: rule fired\r\n")
	assert.Contains(t, msg, "\r\n\r\n2 messages archived")
}

func TestBuildMessageStripsHeaderInjection(t *testing.T) {
	msg := string(buildMessage("a@b", "c@d", "evil\r\nBcc: spam@example.com", "body"))

	assert.Contains(t, msg, "Subject: evil Bcc: spam@example.com\r\n")
	assert.NotContains(t, msg, "\r\nBcc:")
}
