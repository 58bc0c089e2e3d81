package filter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mikey/phish-ledger/internal/core"
)

// HeaderNames are the headers added to messages passed back to Postfix
type HeaderNames struct {
	Findings    string
	Fingerprint string
	Error       string
}

// PostfixFilter implements a Postfix content filter that records phishing findings
type PostfixFilter struct {
	pipeline        *Pipeline
	logger          *zap.Logger
	listenAddr      string
	server          *smtp.Server
	headers         HeaderNames
	postfixAddr     string
	postfixPort     int
	postfixEnabled  bool
	maxMessageBytes int64
	limiter         *rate.Limiter
	reinject        func(sender string, recipients []string, data []byte) error
}

// NewPostfixFilter creates a new Postfix content filter
func NewPostfixFilter(
	pipeline *Pipeline,
	logger *zap.Logger,
	listenAddr string,
	headers HeaderNames,
	postfixAddr string,
	postfixPort int,
	postfixEnabled bool,
	maxMessageBytes int64,
	rateLimit float64,
	rateBurst int,
) *PostfixFilter {
	limit := rate.Inf
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
	}

	f := &PostfixFilter{
		pipeline:        pipeline,
		logger:          logger,
		listenAddr:      listenAddr,
		headers:         headers,
		postfixAddr:     postfixAddr,
		postfixPort:     postfixPort,
		postfixEnabled:  postfixEnabled,
		maxMessageBytes: maxMessageBytes,
		limiter:         rate.NewLimiter(limit, max(rateBurst, 1)),
	}
	f.reinject = f.sendToPostfix
	return f
}

// Start starts the SMTP listener
func (f *PostfixFilter) Start() error {
	f.server = smtp.NewServer(&smtpBackend{filter: f})
	f.server.Addr = f.listenAddr
	f.server.Domain = "localhost"
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = f.maxMessageBytes
	f.server.MaxRecipients = 50

	f.logger.Info("Postfix filter starting", zap.String("address", f.listenAddr))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop stops the SMTP listener
func (f *PostfixFilter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// ProcessMessage runs the pipeline on a message without an SMTP envelope
func (f *PostfixFilter) ProcessMessage(ctx context.Context, raw []byte) (*core.IntakeResult, error) {
	return f.pipeline.Process(ctx, raw, "", nil)
}

// handle processes one message and returns the bytes to reinject.
// Ledger failures never block delivery, they are reported in the error header.
func (f *PostfixFilter) handle(ctx context.Context, sender string, recipients []string, raw []byte) []byte {
	result, err := f.pipeline.Process(ctx, raw, sender, recipients)
	if err != nil {
		f.logger.Error("Failed to process message",
			zap.String("sender", sender),
			zap.Error(err))
	}
	return annotate(raw, f.headers, result, err)
}

// annotate prepends the ledger headers to raw, leaving the original message intact
func annotate(raw []byte, headers HeaderNames, result *core.IntakeResult, procErr error) []byte {
	var out bytes.Buffer

	if result != nil {
		if headers.Fingerprint != "" {
			fmt.Fprintf(&out, "%s: %s\r\n", headers.Fingerprint, result.Fingerprint)
		}
		if headers.Findings != "" {
			fmt.Fprintf(&out, "%s: %d\r\n", headers.Findings, len(result.Findings))
		}
	}
	if procErr != nil && headers.Error != "" {
		fmt.Fprintf(&out, "%s: %s\r\n", headers.Error, sanitizeHeaderValue(procErr.Error()))
	}

	out.Write(raw)
	return out.Bytes()
}

func sanitizeHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// sendToPostfix sends the processed message back to Postfix on the reinjection port
func (f *PostfixFilter) sendToPostfix(sender string, recipients []string, data []byte) error {
	addr := net.JoinHostPort(f.postfixAddr, fmt.Sprint(f.postfixPort))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to Postfix: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := false
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", rcpt),
				zap.Error(err))
			continue
		}
		accepted = true
	}
	if !accepted {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		// the message has already been accepted
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

type smtpBackend struct {
	filter *PostfixFilter
}

func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{filter: b.filter}, nil
}

type smtpSession struct {
	filter     *PostfixFilter
	sender     string
	recipients []string
}

func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *smtpSession) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	if !s.filter.limiter.Allow() {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 7, 1},
			Message:      "Rate limit exceeded, try again later",
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		s.filter.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	data := s.filter.handle(context.Background(), s.sender, s.recipients, raw)

	if !s.filter.postfixEnabled {
		s.filter.logger.Warn("Postfix reinjection disabled, message not forwarded")
		return nil
	}
	if err := s.filter.reinject(s.sender, s.recipients, data); err != nil {
		s.filter.logger.Error("Failed to send message back to Postfix",
			zap.String("sender", s.sender),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *smtpSession) Logout() error {
	return nil
}
