package mailstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"

	"github.com/kochj23/mailsummary/config"
	"github.com/kochj23/mailsummary/consts"
	"github.com/kochj23/mailsummary/helpers"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/pkg/metrics"
	"github.com/kochj23/mailsummary/rules"
)

// IMAPStore is the IMAP-backed Source and Mutator. It keeps one logged-in
// client and a UID map for the messages of the last fetch, so effects can
// address messages by external id.
type IMAPStore struct {
	cfg        config.IMAPConfig
	mailbox    string
	archiveBox string

	mu      sync.Mutex
	client  *imapclient.Client
	fetched map[string]fetchedMessage
}

type fetchedMessage struct {
	uid imap.UID
	raw []byte
}

var (
	_ Source      = (*IMAPStore)(nil)
	_ Mutator     = (*IMAPStore)(nil)
	_ RawProvider = (*IMAPStore)(nil)
)

func NewIMAPStore(cfg config.IMAPConfig) *IMAPStore {
	return &IMAPStore{
		cfg:        cfg,
		mailbox:    cfg.GetMailbox(),
		archiveBox: cfg.GetArchiveBox(),
		fetched:    make(map[string]fetchedMessage),
	}
}

// Connect dials and logs in. It is safe to call on an already connected
// store; the existing session is reused.
func (s *IMAPStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *IMAPStore) connectLocked(ctx context.Context) error {
	if s.client != nil {
		// Cheap liveness probe; reconnect if the session died.
		if err := s.client.Noop().Wait(); err == nil {
			return nil
		}
		s.client.Close()
		s.client = nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout, err := s.cfg.GetTimeout()
	if err != nil {
		return fmt.Errorf("imap.timeout: %w", err)
	}
	dialer := &net.Dialer{Timeout: timeout}

	var c *imapclient.Client
	switch {
	case s.cfg.Insecure:
		conn, err := dialer.Dial("tcp", s.cfg.Address)
		if err != nil {
			return fmt.Errorf("failed to dial IMAP server %s: %w", s.cfg.Address, err)
		}
		c = imapclient.New(conn, nil)
	case s.cfg.StartTLS:
		conn, err := dialer.Dial("tcp", s.cfg.Address)
		if err != nil {
			return fmt.Errorf("failed to dial IMAP server %s: %w", s.cfg.Address, err)
		}
		c, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: s.tlsConfig()})
		if err != nil {
			conn.Close()
			return fmt.Errorf("STARTTLS negotiation with %s failed: %w", s.cfg.Address, err)
		}
	default:
		conn, err := tls.DialWithDialer(dialer, "tcp", s.cfg.Address, s.tlsConfig())
		if err != nil {
			return fmt.Errorf("failed to dial IMAP server %s: %w", s.cfg.Address, err)
		}
		c = imapclient.New(conn, nil)
	}

	if err := c.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		c.Close()
		return fmt.Errorf("IMAP login failed for %s: %w", s.cfg.Username, err)
	}

	s.client = c
	logger.Info("connected to mail store", "address", s.cfg.Address, "mailbox", s.mailbox)
	return nil
}

// tlsConfig returns the client TLS settings for the configured address.
func (s *IMAPStore) tlsConfig() *tls.Config {
	host, _, err := net.SplitHostPort(s.cfg.Address)
	if err != nil {
		host = s.cfg.Address
	}
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
}

func (s *IMAPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Logout().Wait()
	s.client = nil
	return err
}

// Fetch selects the automated mailbox and pulls the newest messages, up to
// the configured fetch limit, as engine records. The raw bodies and UIDs
// are retained for later effect dispatch.
func (s *IMAPStore) Fetch(ctx context.Context) ([]*rules.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	mbox, err := s.client.Select(s.mailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", consts.ErrMailboxNotFound, s.mailbox, err)
	}
	if mbox.NumMessages == 0 {
		metrics.FetchDuration.Observe(time.Since(start).Seconds())
		return nil, nil
	}

	first := uint32(1)
	if limit := uint32(s.cfg.FetchLimit); limit > 0 && mbox.NumMessages > limit {
		first = mbox.NumMessages - limit + 1
	}
	var seqSet imap.SeqSet
	seqSet.AddRange(first, mbox.NumMessages)

	bodySection := &imap.FetchItemBodySection{}
	fetchCmd := s.client.Fetch(seqSet, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	msgs, err := fetchCmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages from %s: %w", s.mailbox, err)
	}

	s.fetched = make(map[string]fetchedMessage, len(msgs))
	out := make([]*rules.Message, 0, len(msgs))
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record := s.toRecord(m, m.FindBodySection(bodySection))
		if record == nil {
			continue
		}
		out = append(out, record)
	}

	metrics.MessagesFetchedTotal.Add(float64(len(out)))
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	logger.DebugContext(ctx, "fetched messages", "mailbox", s.mailbox, "count", len(out))
	return out, nil
}

// toRecord maps one fetched IMAP message to an engine record and retains
// its UID and raw body. Messages that cannot be mapped are skipped.
func (s *IMAPStore) toRecord(m *imapclient.FetchMessageBuffer, raw []byte) *rules.Message {
	if m.Envelope == nil {
		logger.Warn("message without envelope, skipping", "uid", m.UID)
		return nil
	}

	externalID := m.Envelope.MessageID
	if externalID == "" {
		externalID = fmt.Sprintf("uid:%d", m.UID)
	}
	s.fetched[externalID] = fetchedMessage{uid: m.UID, raw: raw}

	record := rules.NewMessage(externalID)
	record.Subject = m.Envelope.Subject
	if len(m.Envelope.From) > 0 {
		from := m.Envelope.From[0]
		record.SenderName = from.Name
		record.SenderAddr = from.Addr()
	}
	record.ReceivedAt = m.InternalDate
	if record.ReceivedAt.IsZero() && !m.Envelope.Date.IsZero() {
		record.ReceivedAt = m.Envelope.Date
	}
	for _, f := range m.Flags {
		if f == imap.FlagSeen {
			record.Read = true
			break
		}
	}

	if len(raw) > 0 {
		entity, err := message.Read(bytes.NewReader(raw))
		if err != nil {
			// Best effort: a malformed MIME structure still leaves us
			// with the envelope fields.
			logger.Debug("failed to parse message body", "external_id", externalID, "error", err)
		} else {
			record.Body = helpers.ExtractTextBody(entity)
		}
	}
	return record
}

// Raw returns the raw RFC 822 bytes of a message from the last fetch.
func (s *IMAPStore) Raw(externalID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fetched[externalID]
	if !ok || f.raw == nil {
		return nil, false
	}
	return f.raw, true
}

func (s *IMAPStore) uidFor(externalID string) (imap.UID, error) {
	f, ok := s.fetched[externalID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", consts.ErrMessageNotFound, externalID)
	}
	return f.uid, nil
}

// Delete flags the message \Deleted and expunges it.
func (s *IMAPStore) Delete(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		return err
	}
	uid, err := s.uidFor(externalID)
	if err != nil {
		return err
	}

	err = s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("failed to flag message %s deleted: %w", externalID, err)
	}
	if err := s.client.Expunge().Close(); err != nil {
		return fmt.Errorf("failed to expunge after delete of %s: %w", externalID, err)
	}
	delete(s.fetched, externalID)
	return nil
}

func (s *IMAPStore) Archive(ctx context.Context, externalID string) error {
	return s.Move(ctx, externalID, s.archiveBox)
}

func (s *IMAPStore) Move(ctx context.Context, externalID, mailbox string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		return err
	}
	uid, err := s.uidFor(externalID)
	if err != nil {
		return err
	}

	if _, err := s.client.Move(imap.UIDSetNum(uid), mailbox).Wait(); err != nil {
		return fmt.Errorf("failed to move message %s to %s: %w", externalID, mailbox, err)
	}
	delete(s.fetched, externalID)
	return nil
}

func (s *IMAPStore) AddTag(ctx context.Context, externalID, tag string) error {
	return s.storeFlag(ctx, externalID, imap.StoreFlagsAdd, imap.Flag(tag))
}

func (s *IMAPStore) MarkRead(ctx context.Context, externalID string) error {
	return s.storeFlag(ctx, externalID, imap.StoreFlagsAdd, imap.FlagSeen)
}

func (s *IMAPStore) MarkUnread(ctx context.Context, externalID string) error {
	return s.storeFlag(ctx, externalID, imap.StoreFlagsDel, imap.FlagSeen)
}

func (s *IMAPStore) storeFlag(ctx context.Context, externalID string, op imap.StoreFlagsOp, flag imap.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		return err
	}
	uid, err := s.uidFor(externalID)
	if err != nil {
		return err
	}

	err = s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:    op,
		Flags: []imap.Flag{flag},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("failed to store flag %s on message %s: %w", flag, externalID, err)
	}
	return nil
}
