package filter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/whitelist"
)

const multipartMessage = "From: =?UTF-8?B?QmFuayBTZWN1cml0eQ==?= <alerts@bank.example>\r\n" +
	"To: victim@example.org\r\n" +
	"Subject: =?ISO-8859-1?Q?Compte_bloqu=E9?=\r\n" +
	"Date: Mon, 03 Jun 2024 10:00:00 +0200\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Please verify your account=\r\n" +
	" today.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Please verify your account today.</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQK\r\n" +
	"--outer--\r\n"

func TestParseMessageMultipart(t *testing.T) {
	email, err := ParseMessage([]byte(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "alerts@bank.example", email.From)
	assert.Equal(t, []string{"victim@example.org"}, email.To)
	assert.Equal(t, "Compte bloqué", email.Subject)
	require.NotNil(t, email.Date)
	assert.Equal(t, 8, email.Date.Hour())
	assert.Equal(t, "Please verify your account today.", email.Body)
}

func TestParseMessageBase64Latin1Body(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"Q2xpcXVleiBpY2kgcG91ciBy6WNsYW1lcg==\r\n"

	email, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Cliquez ici pour réclamer", email.Body)
}

func TestParseMessageHTMLOnly(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: multipart/alternative; boundary=b\r\n" +
		"\r\n" +
		"--b\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<a href=x>click here</a>\r\n" +
		"--b--\r\n"

	email, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "<a href=x>click here</a>", email.Body)
}

type fakeDetector struct {
	findings []core.FindingInput
	err      error
	calls    int
}

func (d *fakeDetector) Name() string { return "fake" }

func (d *fakeDetector) Detect(ctx context.Context, email *core.Email) ([]core.FindingInput, error) {
	d.calls++
	return d.findings, d.err
}

type fakeRecorder struct {
	email    *core.EmailDescriptor
	findings []core.FindingInput
	id       int64
	err      error
}

func (r *fakeRecorder) Store(ctx context.Context, email *core.EmailDescriptor, findings []core.FindingInput) (int64, error) {
	r.email = email
	r.findings = findings
	return r.id, r.err
}

const simpleMessage = "From: Support <support@phish.example>\r\nSubject: Reset\r\n\r\nreset your password\r\n"

func TestPipelineRecordsFindings(t *testing.T) {
	detector := &fakeDetector{findings: []core.FindingInput{{Phrase: "reset your password", Segment: "body"}}}
	recorder := &fakeRecorder{id: 42}
	p := NewPipeline(recorder, detector, nil, zap.NewNop(), 0)

	result, err := p.Process(context.Background(), []byte(simpleMessage), "bounce@phish.example", []string{"rcpt@example.org"})
	require.NoError(t, err)
	assert.True(t, result.Flagged())
	assert.Equal(t, int64(42), result.EmailID)
	assert.Equal(t, core.Fingerprint([]byte(simpleMessage)), result.Fingerprint)

	require.NotNil(t, recorder.email)
	assert.Equal(t, "support@phish.example", recorder.email.Sender)
	assert.Equal(t, "rcpt@example.org", recorder.email.Recipient)
	assert.Equal(t, []byte(simpleMessage), recorder.email.RawContent)
	assert.Len(t, recorder.findings, 1)
}

func TestPipelineCleanMessageIsNotRecorded(t *testing.T) {
	recorder := &fakeRecorder{}
	p := NewPipeline(recorder, &fakeDetector{}, nil, zap.NewNop(), 0)

	result, err := p.Process(context.Background(), []byte(simpleMessage), "", nil)
	require.NoError(t, err)
	assert.False(t, result.Flagged())
	assert.Nil(t, recorder.email)
}

func TestPipelineSkipsWhitelistedSenders(t *testing.T) {
	detector := &fakeDetector{}
	checker := whitelist.NewChecker([]string{"phish.example"}, zap.NewNop())
	p := NewPipeline(&fakeRecorder{}, detector, checker, zap.NewNop(), 0)

	result, err := p.Process(context.Background(), []byte(simpleMessage), "", nil)
	require.NoError(t, err)
	assert.True(t, result.Whitelisted)
	assert.Zero(t, detector.calls)
}

func TestPipelineReturnsResultWhenRecordingFails(t *testing.T) {
	detector := &fakeDetector{findings: []core.FindingInput{{Phrase: "x", Segment: "body"}}}
	recorder := &fakeRecorder{err: core.ErrConnection}
	p := NewPipeline(recorder, detector, nil, zap.NewNop(), 0)

	result, err := p.Process(context.Background(), []byte(simpleMessage), "", nil)
	assert.ErrorIs(t, err, core.ErrConnection)
	require.NotNil(t, result)
	assert.Len(t, result.Findings, 1)
	assert.False(t, result.Flagged())
}

func TestAnnotatePrependsHeaders(t *testing.T) {
	headers := HeaderNames{Findings: "X-Phish-Findings", Fingerprint: "X-Phish-Fingerprint", Error: "X-Phish-Ledger-Error"}
	result := &core.IntakeResult{Fingerprint: "abc", Findings: make([]core.FindingInput, 2)}

	out := string(annotate([]byte(simpleMessage), headers, result, errors.New("db\r\ndown")))
	assert.True(t, strings.HasPrefix(out,
		"X-Phish-Fingerprint: abc\r\nX-Phish-Findings: 2\r\nX-Phish-Ledger-Error: db down\r\nFrom: Support"))
	assert.True(t, strings.HasSuffix(out, simpleMessage))
}

func TestSessionDeliversDespiteLedgerFailure(t *testing.T) {
	detector := &fakeDetector{findings: []core.FindingInput{{Phrase: "x", Segment: "body"}}}
	p := NewPipeline(&fakeRecorder{err: core.ErrTransaction}, detector, nil, zap.NewNop(), 0)
	f := NewPostfixFilter(p, zap.NewNop(), "", HeaderNames{Error: "X-Err"}, "localhost", 10026, true, 0, 0, 1)

	var delivered []byte
	f.reinject = func(sender string, recipients []string, data []byte) error {
		delivered = data
		return nil
	}

	s := &smtpSession{filter: f}
	require.NoError(t, s.Mail("a@example.com", nil))
	require.NoError(t, s.Rcpt("b@example.com", nil))
	require.NoError(t, s.Data(bytes.NewReader([]byte(simpleMessage))))
	assert.Contains(t, string(delivered), "X-Err: ")
}

func TestSessionRateLimited(t *testing.T) {
	p := NewPipeline(&fakeRecorder{}, &fakeDetector{}, nil, zap.NewNop(), 0)
	f := NewPostfixFilter(p, zap.NewNop(), "", HeaderNames{}, "localhost", 10026, false, 0, 0.001, 1)

	s := &smtpSession{filter: f}
	require.NoError(t, s.Data(bytes.NewReader([]byte(simpleMessage))))

	err := s.Data(bytes.NewReader([]byte(simpleMessage)))
	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 451, smtpErr.Code)
}
