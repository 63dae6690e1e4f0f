package verify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"jobpilot/internal/common/config"
	"jobpilot/internal/common/logger"
)

// fetchWindow caps how many of the newest matching messages one Fetch reads.
const fetchWindow = 20

// IMAPMailbox reads verification mail over IMAP with TLS. Each Fetch opens a
// fresh session, so a dropped connection never poisons later polls.
type IMAPMailbox struct {
	cfg    config.MailboxConfig
	logger logger.Logger
}

func NewIMAPMailbox(cfg config.MailboxConfig, log logger.Logger) *IMAPMailbox {
	return &IMAPMailbox{
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "imapMailbox"}),
	}
}

func (m *IMAPMailbox) Fetch(ctx context.Context, since time.Time) ([]Message, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.IMAPServer, m.cfg.IMAPPort)

	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 15 * time.Second}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(60 * time.Second))
	}

	client := imapclient.New(conn, nil)
	defer client.Close()

	if err := client.Login(m.cfg.Address, m.cfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	defer client.Logout()

	if _, err := client.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("imap select: %w", err)
	}

	search, err := client.Search(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	nums := search.AllSeqNums()
	if len(nums) == 0 {
		return nil, nil
	}
	if len(nums) > fetchWindow {
		nums = nums[len(nums)-fetchWindow:]
	}

	bodySection := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierText, Peek: true}
	msgs, err := client.Fetch(imap.SeqSetNum(nums...), &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	var out []Message
	for _, msg := range msgs {
		if msg.Envelope == nil {
			m.logger.Warn("message without envelope", map[string]interface{}{"seq": msg.SeqNum})
			continue
		}
		// SEARCH SINCE has date granularity, filter the exact time here.
		if msg.Envelope.Date.Before(since) {
			continue
		}
		out = append(out, Message{
			From:     formatAddresses(msg.Envelope.From),
			Subject:  msg.Envelope.Subject,
			Body:     string(msg.FindBodySection(bodySection)),
			Received: msg.Envelope.Date,
		})
	}
	return out, nil
}

func formatAddresses(addrs []imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Addr()))
		} else {
			parts = append(parts, a.Addr())
		}
	}
	return strings.Join(parts, ", ")
}
