// Package eml reduces an RFC 822 message to the plain text the alert
// parser consumes. text/plain parts are preferred; HTML parts are
// converted to text line by line.
package eml

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linnemanlabs/herald/internal/alert"
)

// ErrInvalidMessage is returned for input that is not a readable RFC 822 message.
var ErrInvalidMessage = errors.New("invalid email message")

// Message is the text extracted from one email.
type Message struct {
	Subject string
	From    string
	Body    string
}

// Extract parses raw and returns its text body.
func Extract(raw []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	body, err := extractBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, err
	}

	return &Message{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		From:    decodeHeader(msg.Header.Get("From")),
		Body:    strings.TrimSpace(body),
	}, nil
}

// Join concatenates bodies with the alert section delimiter so sections
// from different messages never merge.
func Join(msgs []*Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || strings.TrimSpace(m.Body) == "" {
			continue
		}
		parts = append(parts, m.Body)
	}
	return strings.Join(parts, "\n"+alert.Delimiter+"\n")
}

func decodeHeader(header string) string {
	if header == "" {
		return ""
	}
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

func extractBody(contentType, encoding string, r io.Reader) (string, error) {
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return extractMultipart(r, params["boundary"])
	}

	content, err := io.ReadAll(decodeTransfer(encoding, r))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrInvalidMessage, err)
	}

	if mediaType == "text/html" {
		return htmlToText(content)
	}
	return string(content), nil
}

func extractMultipart(r io.Reader, boundary string) (string, error) {
	if boundary == "" {
		return "", fmt.Errorf("%w: multipart without boundary", ErrInvalidMessage)
	}

	mr := multipart.NewReader(r, boundary)
	var textParts, htmlParts []string

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: next part: %v", ErrInvalidMessage, err)
		}

		mediaType, params, perr := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if perr != nil {
			mediaType = "text/plain"
		}

		// NextPart already strips quoted-printable.
		body := decodeTransfer(part.Header.Get("Content-Transfer-Encoding"), part)

		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			nested, nerr := extractMultipart(body, params["boundary"])
			if nerr == nil && nested != "" {
				textParts = append(textParts, nested)
			}
		case mediaType == "text/plain":
			b, rerr := io.ReadAll(body)
			if rerr == nil {
				textParts = append(textParts, string(b))
			}
		case mediaType == "text/html":
			b, rerr := io.ReadAll(body)
			if rerr != nil {
				break
			}
			if txt, herr := htmlToText(b); herr == nil {
				htmlParts = append(htmlParts, txt)
			}
		}
		_ = part.Close()
	}

	if len(textParts) > 0 {
		return strings.Join(textParts, "\n"), nil
	}
	return strings.Join(htmlParts, "\n"), nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// blockSelector lists elements whose end starts a new text line.
const blockSelector = "p, div, tr, li, table, h1, h2, h3, h4, h5, h6"

// htmlToText renders the visible text of an HTML document, one block per line.
func htmlToText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", ErrInvalidMessage, err)
	}

	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	// A horizontal rule separates alert sections.
	doc.Find("hr").ReplaceWithHtml("\n" + alert.Delimiter + "\n")
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n"), nil
}
