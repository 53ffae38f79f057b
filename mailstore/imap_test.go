package mailstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochj23/mailsummary/config"
)

func TestConnectRejectsInvalidTimeout(t *testing.T) {
	s := NewIMAPStore(config.IMAPConfig{
		Address:  "mail.example.com:993",
		Username: "jo@example.com",
		Timeout:  "soon",
	})

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap.timeout")
}

func TestTLSConfigServerName(t *testing.T) {
	s := NewIMAPStore(config.IMAPConfig{Address: "mail.example.com:993"})
	cfg := s.tlsConfig()
	assert.Equal(t, "mail.example.com", cfg.ServerName)

	s = NewIMAPStore(config.IMAPConfig{Address: "mail.example.com"})
	assert.Equal(t, "mail.example.com", s.tlsConfig().ServerName)
}
