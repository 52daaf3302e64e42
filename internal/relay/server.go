// Package relay is a local SMTP sink for dry runs. It accepts mail like a
// real relay, parses it and keeps the most recent messages in memory.
package relay

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

const (
	defaultDomain   = "bulkmail.local"
	defaultCapacity = 500
)

var errRejected = &smtp.SMTPError{
	Code:         550,
	EnhancedCode: smtp.EnhancedCode{5, 7, 1},
	Message:      "Delivery rejected by relay",
}

type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

type Options struct {
	Addr     string
	Auth     AuthConfig
	Capacity int
	// RejectAll makes every transaction fail at RCPT time.
	RejectAll bool
}

// Capture is one message received by the relay.
type Capture struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          []string  `json:"to"`
	Subject     string    `json:"subject"`
	ReplyTo     string    `json:"reply_to,omitempty"`
	TextBody    string    `json:"text_body"`
	HTMLBody    string    `json:"html_body"`
	Attachments []string  `json:"attachments"`
	Size        int       `json:"size"`
	ReceivedAt  time.Time `json:"received_at"`
	Raw         []byte    `json:"-"`
}

type Server struct {
	smtp    *smtp.Server
	backend *backend
	logger  *slog.Logger
}

func New(logger *slog.Logger, opts Options) *Server {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	b := &backend{
		logger:   logger,
		auth:     opts.Auth,
		capacity: capacity,
	}
	b.rejectAll.Store(opts.RejectAll)

	server := smtp.NewServer(b)
	server.Addr = opts.Addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, backend: b, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("relay listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("relay listening", "addr", l.Addr().String())
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

// Captures returns the retained messages, oldest first.
func (s *Server) Captures() []Capture {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	out := make([]Capture, len(s.backend.captures))
	copy(out, s.backend.captures)
	return out
}

func (s *Server) SetRejectAll(reject bool) {
	s.backend.rejectAll.Store(reject)
}

type backend struct {
	logger   *slog.Logger
	auth     AuthConfig
	capacity int

	rejectAll atomic.Bool

	mu       sync.Mutex
	captures []Capture
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

func (b *backend) store(c Capture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captures = append(b.captures, c)
	if over := len(b.captures) - b.capacity; over > 0 {
		b.captures = append([]Capture(nil), b.captures[over:]...)
	}
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.auth.Enabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.auth.Enabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.auth.Username && password == s.backend.auth.Password {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.auth.Enabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.auth.Enabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	if s.backend.rejectAll.Load() {
		return errRejected
	}
	s.to = append(s.to, normalizeEmail(to))
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	capture, err := parseMessage(s.from, s.to, data)
	if err != nil {
		s.backend.logger.Warn("parse relayed message", "error", err)
	}
	s.backend.store(capture)
	s.backend.logger.Info("message captured", "id", capture.ID, "from", capture.From, "to", strings.Join(capture.To, ","), "subject", capture.Subject)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

func parseMessage(envelopeFrom string, envelopeTo []string, raw []byte) (Capture, error) {
	capture := Capture{
		ID:          uuid.NewString(),
		From:        envelopeFrom,
		To:          append([]string(nil), envelopeTo...),
		Attachments: []string{},
		Raw:         raw,
		Size:        len(raw),
		ReceivedAt:  time.Now(),
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return capture, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		capture.Subject = subject
	}
	if capture.From == "" {
		if list, err := reader.Header.AddressList("From"); err == nil && len(list) > 0 {
			capture.From = normalizeEmail(list[0].Address)
		}
	}
	if list, err := reader.Header.AddressList("Reply-To"); err == nil && len(list) > 0 {
		capture.ReplyTo = normalizeEmail(list[0].Address)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return capture, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/html"):
				capture.HTMLBody = appendBody(capture.HTMLBody, string(body))
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				capture.TextBody = appendBody(capture.TextBody, string(body))
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			capture.Attachments = append(capture.Attachments, filename)
		}
	}
	return capture, nil
}

func appendBody(existing, body string) string {
	if existing == "" {
		return body
	}
	return existing + "\n" + body
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
