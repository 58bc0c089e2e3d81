package filter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/mikey/phish-ledger/internal/core"
)

// maxMIMEDepth bounds recursion into nested multipart bodies
const maxMIMEDepth = 5

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// charsetReader converts input in the named charset to UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// decodeHeader decodes RFC 2047 encoded words, returning the input unchanged when it cannot
func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// ParseMessage parses a raw RFC 5322 message into the form detectors work on
func ParseMessage(raw []byte) (*core.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse email message: %w", err)
	}

	email := &core.Email{
		Headers: make(map[string][]string, len(msg.Header)),
		Subject: decodeHeader(msg.Header.Get("Subject")),
		Raw:     raw,
	}
	for key, values := range msg.Header {
		email.Headers[key] = values
	}

	if from := msg.Header.Get("From"); from != "" {
		if addr, err := addressParser.Parse(from); err == nil {
			email.From = addr.Address
		} else {
			email.From = decodeHeader(from)
		}
	}
	if to, err := msg.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			email.To = append(email.To, addr.Address)
		}
	}
	if date, err := msg.Header.Date(); err == nil {
		utc := date.UTC()
		email.Date = &utc
	}

	body, err := extractText(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0)
	if err != nil {
		return nil, err
	}
	email.Body = body
	return email, nil
}

var addressParser = &mail.AddressParser{WordDecoder: wordDecoder}

// extractText returns the text/plain content of a body, falling back to text/html
func extractText(contentType, transferEncoding string, body io.Reader, depth int) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		return decodePart(transferEncoding, params["charset"], body)
	}

	boundary := params["boundary"]
	if boundary == "" || depth >= maxMIMEDepth {
		return decodePart(transferEncoding, "", body)
	}

	var plain, html strings.Builder
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// keep whatever was readable before the broken part
			break
		}

		partType := part.Header.Get("Content-Type")
		partMedia, _, _ := mime.ParseMediaType(partType)
		if partMedia == "" {
			partMedia = "text/plain"
		}
		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if disposition == "attachment" {
			continue
		}

		switch {
		case strings.HasPrefix(partMedia, "multipart/"):
			text, err := extractText(partType, part.Header.Get("Content-Transfer-Encoding"), part, depth+1)
			if err == nil && text != "" {
				appendLine(&plain, text)
			}
		case partMedia == "text/plain":
			text, err := extractText(partType, part.Header.Get("Content-Transfer-Encoding"), part, depth+1)
			if err == nil {
				appendLine(&plain, text)
			}
		case partMedia == "text/html":
			text, err := extractText(partType, part.Header.Get("Content-Transfer-Encoding"), part, depth+1)
			if err == nil {
				appendLine(&html, text)
			}
		}
	}

	if plain.Len() > 0 {
		return plain.String(), nil
	}
	return html.String(), nil
}

func appendLine(b *strings.Builder, text string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(strings.TrimRight(text, "\r\n"))
}

// decodePart undoes the transfer encoding and converts the charset to UTF-8
func decodePart(transferEncoding, charset string, body io.Reader) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "quoted-printable":
		body = quotedprintable.NewReader(body)
	case "base64":
		body = base64.NewDecoder(base64.StdEncoding, body)
	}

	if charset != "" && !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "us-ascii") {
		if r, err := charsetReader(charset, body); err == nil {
			body = r
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read message body: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
