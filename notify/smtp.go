package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/kochj23/mailsummary/config"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/pkg/metrics"
	"github.com/kochj23/mailsummary/rules"
)

// SMTPNotifier delivers notifications as mail through a submission server
// with STARTTLS and PLAIN authentication.
type SMTPNotifier struct {
	addr     string
	username string
	password string
	from     string
	to       string
}

var _ rules.Notifier = (*SMTPNotifier)(nil)

func NewSMTPNotifier(cfg config.NotifierConfig) *SMTPNotifier {
	return &SMTPNotifier{
		addr:     cfg.SMTPAddress,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.From,
		to:       cfg.To,
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, title, body string) error {
	err := n.send(ctx, title, body)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("smtp", "failure").Inc()
		return err
	}
	metrics.NotificationsTotal.WithLabelValues("smtp", "success").Inc()
	return nil
}

func (n *SMTPNotifier) send(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tlsConfig := &tls.Config{
		MinVersion:    tls.VersionTLS12,
		Renegotiation: tls.RenegotiateNever,
	}
	c, err := smtp.DialStartTLS(n.addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to submission server %s: %w", n.addr, err)
	}
	defer c.Close()

	if n.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", n.username, n.password)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := c.Mail(n.from, nil); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := c.Rcpt(n.to, nil); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := wc.Write(buildMessage(n.from, n.to, title, body)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		// The message is already accepted at this point.
		logger.Warn("failed to send QUIT to submission server", "error", err)
	}
	return nil
}

func buildMessage(from, to, title, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(title))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// sanitizeHeader strips CR and LF so a rule-provided title cannot inject
// additional headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
