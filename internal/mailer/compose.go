package mailer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/bulkmail/internal/templates"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	entityReplacer    = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
	)
)

// HTMLToPlain derives the text alternative of an HTML body: tags are
// stripped, a handful of common entities decoded and whitespace collapsed.
func HTMLToPlain(html string) string {
	plain := tagPattern.ReplaceAllString(html, "")
	plain = entityReplacer.Replace(plain)
	plain = whitespacePattern.ReplaceAllString(plain, " ")
	return strings.TrimSpace(plain)
}

type attachment struct {
	name string
	data []byte
}

func (m *Mailer) readAttachments(paths []string) []attachment {
	var files []attachment
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			m.logger.Warn("skip attachment", "path", path, "error", err)
			continue
		}
		if m.maxAttachmentSize > 0 && info.Size() > m.maxAttachmentSize {
			m.logger.Warn("skip attachment", "path", path, "size", info.Size(), "limit", m.maxAttachmentSize)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("skip attachment", "path", path, "error", err)
			continue
		}
		files = append(files, attachment{name: filepath.Base(path), data: data})
	}
	return files
}

func (m *Mailer) compose(e Email) ([]byte, error) {
	var h mail.Header
	fromName := e.FromName
	if fromName == "" {
		fromName = m.senderName
	}
	h.SetDate(m.now())
	h.SetAddressList("From", []*mail.Address{{Name: fromName, Address: m.username}})
	h.SetAddressList("To", []*mail.Address{{Address: e.To}})
	h.SetSubject(e.Subject)
	if replyTo := firstNonEmpty(e.ReplyTo, m.replyTo); replyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: replyTo}})
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	files := m.readAttachments(e.Attachments)
	html := templates.ParseKind(string(e.Kind)) == templates.HTML

	var buf bytes.Buffer
	switch {
	case len(files) > 0:
		mw, err := mail.CreateWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, err
		}
		if err := writeBodyParts(iw, e.Body, html); err != nil {
			return nil, err
		}
		if err := iw.Close(); err != nil {
			return nil, err
		}
		for _, f := range files {
			if err := writeAttachment(mw, f); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	case html:
		iw, err := mail.CreateInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if err := writeBodyParts(iw, e.Body, true); err != nil {
			return nil, err
		}
		if err := iw.Close(); err != nil {
			return nil, err
		}
	default:
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, e.Body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// writeBodyParts writes the text part and, for HTML bodies, the HTML part
// after it so clients prefer the richer alternative.
func writeBodyParts(iw *mail.InlineWriter, body string, html bool) error {
	text := body
	if html {
		text = HTMLToPlain(body)
	}
	if err := writeInline(iw, "text/plain", text); err != nil {
		return err
	}
	if html {
		return writeInline(iw, "text/html", body)
	}
	return nil
}

func writeInline(iw *mail.InlineWriter, contentType, content string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := iw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, content); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func writeAttachment(mw *mail.Writer, f attachment) error {
	var h mail.AttachmentHeader
	h.SetContentType("application/octet-stream", nil)
	h.SetFilename(f.name)
	h.Set("Content-Transfer-Encoding", "base64")
	w, err := mw.CreateAttachment(h)
	if err != nil {
		return err
	}
	if _, err := w.Write(f.data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
