// Package generic is the SMTP/IMAP mail transport. Conversations are
// threaded through standard In-Reply-To/References headers, so the
// adapter can both derive the thread of an inbound message and look a
// thread's history back up over IMAP.
package generic

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	netmail "net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/caseflowai/caseflow/internal/mail"
)

const Name mail.AdapterName = "generic"

// Config carries the SMTP/IMAP account settings.
type Config struct {
	Username     string
	Password     string
	SMTPHost     string
	SMTPPort     int
	SMTPSecurity string // tls, starttls, none
	IMAPHost     string
	IMAPPort     int
	IMAPSecurity string // tls, starttls, none
	PollInterval time.Duration
}

type Adapter struct {
	logger *slog.Logger
	cfg    Config
}

func New(log *slog.Logger, cfg Config) (*Adapter, error) {
	for key, v := range map[string]string{
		"username":  cfg.Username,
		"password":  cfg.Password,
		"smtp_host": cfg.SMTPHost,
		"imap_host": cfg.IMAPHost,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("generic mail: %s is required", key)
		}
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.IMAPPort == 0 {
		cfg.IMAPPort = 993
	}
	if cfg.SMTPSecurity == "" {
		cfg.SMTPSecurity = "starttls"
	}
	if cfg.IMAPSecurity == "" {
		cfg.IMAPSecurity = "tls"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", string(Name))),
		cfg:    cfg,
	}, nil
}

func (a *Adapter) Name() mail.AdapterName { return Name }

// ---- Sender ----

func (a *Adapter) Send(ctx context.Context, msg mail.OutboundMessage) (mail.Receipt, error) {
	m := gomail.NewMsg()
	if err := m.From(a.cfg.Username); err != nil {
		return mail.Receipt{}, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return mail.Receipt{}, fmt.Errorf("set to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	m.SetMessageID()

	if msg.ThreadID != "" {
		replyTo := msg.InReplyTo
		if replyTo == "" {
			replyTo = msg.ThreadID
		}
		m.SetGenHeader(gomail.Header("In-Reply-To"), angled(replyTo))
		refs := angled(msg.ThreadID)
		if replyTo != msg.ThreadID {
			refs += " " + angled(replyTo)
		}
		m.SetGenHeader(gomail.Header("References"), refs)
	}

	opts := []gomail.Option{
		gomail.WithPort(a.cfg.SMTPPort),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(a.cfg.Username),
		gomail.WithPassword(a.cfg.Password),
	}
	switch a.cfg.SMTPSecurity {
	case "tls":
		opts = append(opts, gomail.WithSSLPort(false), gomail.WithTLSPolicy(gomail.TLSMandatory))
	case "starttls":
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}

	client, err := gomail.NewClient(a.cfg.SMTPHost, opts...)
	if err != nil {
		return mail.Receipt{}, fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return mail.Receipt{}, fmt.Errorf("send email: %w", err)
	}

	messageID := canonicalID(m.GetMessageID())
	threadID := msg.ThreadID
	if threadID == "" {
		// A fresh conversation is rooted at the message we just sent.
		threadID = messageID
	}
	return mail.Receipt{MessageID: messageID, ThreadID: threadID}, nil
}

// ---- IMAP dialing ----

func dial(host string, port int, security, username, password string) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	opts := &imapclient.Options{TLSConfig: &tls.Config{ServerName: host}}

	var client *imapclient.Client
	var err error
	switch security {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	if err := client.Login(username, password).Wait(); err != nil {
		client.Close()
		return nil, err
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (a *Adapter) dialIMAP() (*imapclient.Client, error) {
	return dial(a.cfg.IMAPHost, a.cfg.IMAPPort, a.cfg.IMAPSecurity, a.cfg.Username, a.cfg.Password)
}

var fetchOptions = &imap.FetchOptions{
	Envelope:    true,
	UID:         true,
	BodySection: []*imap.FetchItemBodySection{{}},
}

// ---- Fetcher ----

func (a *Adapter) FetchRecent(ctx context.Context, max int) ([]mail.InboundMessage, error) {
	if max <= 0 {
		max = 5
	}

	client, err := a.dialIMAP()
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	defer client.Close()

	statusData, err := client.Status("INBOX", &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap status: %w", err)
	}
	var total int
	if statusData.NumMessages != nil {
		total = int(*statusData.NumMessages)
	}
	if total == 0 {
		return nil, nil
	}

	start := total - max + 1
	if start < 1 {
		start = 1
	}
	seqSet := imap.SeqSet{}
	seqSet.AddRange(uint32(start), uint32(total))

	return collectMessages(client.Fetch(seqSet, fetchOptions))
}

// ---- ThreadReader ----

// ThreadMessages finds every inbox message belonging to a conversation:
// the thread root itself plus all replies referencing it.
func (a *Adapter) ThreadMessages(ctx context.Context, threadID string) ([]mail.InboundMessage, error) {
	if threadID == "" {
		return nil, nil
	}

	client, err := a.dialIMAP()
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	defer client.Close()

	seen := map[imap.UID]struct{}{}
	var uids []imap.UID
	for _, key := range []string{"Message-Id", "References"} {
		criteria := &imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: key, Value: angled(threadID)}},
		}
		data, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return nil, fmt.Errorf("imap search %s: %w", key, err)
		}
		for _, uid := range data.AllUIDs() {
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return nil, nil
	}

	msgs, err := collectMessages(client.Fetch(imap.UIDSetNum(uids...), fetchOptions))
	if err != nil {
		return nil, err
	}
	sortByReceived(msgs)
	return msgs, nil
}

// ---- MessageReader ----

// MessageByID fetches a single inbox message by its Message-ID header.
func (a *Adapter) MessageByID(ctx context.Context, id string) (*mail.InboundMessage, error) {
	if canonicalID(id) == "" {
		return nil, nil
	}

	client, err := a.dialIMAP()
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	defer client.Close()

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-Id", Value: angled(id)}},
	}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search Message-Id: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	msgs, err := collectMessages(client.Fetch(imap.UIDSetNum(uids[0]), fetchOptions))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// ---- Receiver (IMAP IDLE + poll fallback) ----

func (a *Adapter) StartReceiving(ctx context.Context, handler mail.InboundHandler) (mail.Stopper, error) {
	rctx, cancel := context.WithCancel(ctx)
	conn := &imapConn{
		logger:  a.logger,
		cfg:     a.cfg,
		handler: handler,
		cancel:  cancel,
	}
	go conn.run(rctx)
	return conn, nil
}

type imapConn struct {
	logger  *slog.Logger
	cfg     Config
	handler mail.InboundHandler
	cancel  context.CancelFunc
	once    sync.Once
	lastUID imap.UID
}

func (c *imapConn) Stop(_ context.Context) error {
	c.once.Do(func() { c.cancel() })
	return nil
}

func (c *imapConn) run(ctx context.Context) {
	for {
		if err := c.connectAndReceive(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("imap connection error, retrying in 30s", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
		}
	}
}

func (c *imapConn) connectAndReceive(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.IMAPHost, c.cfg.IMAPPort)

	newMailCh := make(chan struct{}, 1)
	notifyNewMail := func() {
		select {
		case newMailCh <- struct{}{}:
		default:
		}
	}

	opts := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: c.cfg.IMAPHost},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					notifyNewMail()
				}
			},
		},
	}
	var client *imapclient.Client
	var err error
	switch c.cfg.IMAPSecurity {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return fmt.Errorf("dial imap (%s): %w", c.cfg.IMAPSecurity, err)
	}
	defer client.Close()

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	defer client.Logout()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}

	c.logger.Info("imap connected", slog.String("host", c.cfg.IMAPHost), slog.Int("port", c.cfg.IMAPPort))
	c.fetchNewMessages(ctx, client)

	idleCmd, idleErr := client.Idle()
	if idleErr != nil {
		c.logger.Warn("IDLE not supported, falling back to polling", slog.Any("error", idleErr))
		return c.pollLoop(ctx, client)
	}
	c.logger.Info("IDLE mode active")

	// Even with IDLE, periodically check for new mail as a safety net
	// (some servers accept IDLE but don't push EXISTS notifications)
	checkInterval := c.cfg.PollInterval
	if checkInterval > 2*time.Minute {
		checkInterval = 2 * time.Minute
	}

	for {
		select {
		case <-ctx.Done():
			_ = idleCmd.Close()
			return nil
		case <-newMailCh:
			c.logger.Info("IDLE: new mail notification received")
			_ = idleCmd.Close()
			c.fetchNewMessages(ctx, client)
			idleCmd, idleErr = client.Idle()
			if idleErr != nil {
				return c.pollLoop(ctx, client)
			}
		case <-time.After(checkInterval):
			_ = idleCmd.Close()
			c.fetchNewMessages(ctx, client)
			idleCmd, idleErr = client.Idle()
			if idleErr != nil {
				return c.pollLoop(ctx, client)
			}
		}
	}
}

func (c *imapConn) pollLoop(ctx context.Context, client *imapclient.Client) error {
	for {
		c.fetchNewMessages(ctx, client)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *imapConn) fetchNewMessages(ctx context.Context, client *imapclient.Client) {
	// UID range catches messages newer than the last processed one
	// regardless of \Seen flag, so other clients reading the mailbox
	// don't interfere.
	var uidSet imap.UIDSet
	if c.lastUID > 0 {
		uidSet.AddRange(c.lastUID+1, 0)
	} else {
		uidSet.AddRange(1, 0)
	}

	fetchCmd := client.Fetch(uidSet, fetchOptions)
	defer fetchCmd.Close()

	isFirstRun := c.lastUID == 0
	processed := 0

	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}

		buf, err := msgData.Collect()
		if err != nil || buf.Envelope == nil {
			continue
		}

		if buf.UID > c.lastUID {
			c.lastUID = buf.UID
		}

		// On first run, record the highest UID without replaying history.
		if isFirstRun {
			continue
		}

		inbound := bufToInbound(buf)
		if inbound == nil {
			continue
		}
		processed++

		if err := c.handler(ctx, *inbound); err != nil {
			c.logger.Error("inbound handler failed", slog.Any("error", err))
		}
	}

	c.logger.Info("imap fetch completed", slog.Int("processed", processed), slog.Uint64("last_uid", uint64(c.lastUID)))
}

// ---- Message conversion ----

func collectMessages(fetchCmd *imapclient.FetchCommand) ([]mail.InboundMessage, error) {
	defer fetchCmd.Close()

	var out []mail.InboundMessage
	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil || buf.Envelope == nil {
			continue
		}
		if inbound := bufToInbound(buf); inbound != nil {
			out = append(out, *inbound)
		}
	}
	return out, nil
}

func bufToInbound(buf *imapclient.FetchMessageBuffer) *mail.InboundMessage {
	env := buf.Envelope
	if env == nil {
		return nil
	}

	var raw []byte
	if len(buf.BodySection) > 0 {
		raw = buf.BodySection[0].Bytes
	}

	from := ""
	if len(env.From) > 0 {
		from = env.From[0].Addr()
	}
	var to []string
	for _, addr := range env.To {
		to = append(to, addr.Addr())
	}

	messageID := canonicalID(env.MessageID)
	body, threadID := parseRaw(raw)
	if threadID == "" {
		// A message nothing references starts its own conversation.
		threadID = messageID
	}

	return &mail.InboundMessage{
		ID:         messageID,
		From:       from,
		To:         to,
		Subject:    env.Subject,
		Body:       body,
		Snippet:    snippet(body),
		ThreadID:   threadID,
		ReceivedAt: env.Date,
	}
}

// parseRaw extracts the body text and the thread root from a raw RFC
// 5322 message. The root is the first id in References, falling back to
// In-Reply-To for sparse clients.
func parseRaw(raw []byte) (body, threadID string) {
	if len(raw) == 0 {
		return "", ""
	}
	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return string(raw), ""
	}

	if refs := strings.Fields(msg.Header.Get("References")); len(refs) > 0 {
		threadID = canonicalID(refs[0])
	} else if irt := msg.Header.Get("In-Reply-To"); irt != "" {
		threadID = canonicalID(irt)
	}

	data, err := io.ReadAll(msg.Body)
	if err != nil {
		return "", threadID
	}
	return string(data), threadID
}

func snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

func canonicalID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func angled(id string) string {
	id = canonicalID(id)
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}

func sortByReceived(msgs []mail.InboundMessage) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt) })
}

var (
	_ mail.Adapter       = (*Adapter)(nil)
	_ mail.Sender        = (*Adapter)(nil)
	_ mail.Fetcher       = (*Adapter)(nil)
	_ mail.ThreadReader  = (*Adapter)(nil)
	_ mail.MessageReader = (*Adapter)(nil)
	_ mail.Receiver      = (*Adapter)(nil)
)
