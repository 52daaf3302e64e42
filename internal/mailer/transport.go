package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Transport delivers one composed message per call. Implementations open
// and close their own connection each time.
type Transport interface {
	Probe(ctx context.Context) error
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}

type Security int

const (
	SecurityNone Security = iota
	SecurityStartTLS
	SecurityImplicitTLS
)

func (s Security) String() string {
	switch s {
	case SecurityStartTLS:
		return "starttls"
	case SecurityImplicitTLS:
		return "tls"
	default:
		return "none"
	}
}

// SecurityForPort maps the relay port to its connection policy: 587 upgrades
// with STARTTLS, 465 is TLS from the first byte, anything else is plaintext.
func SecurityForPort(port int) Security {
	switch port {
	case 587:
		return SecurityStartTLS
	case 465:
		return SecurityImplicitTLS
	default:
		return SecurityNone
	}
}

type Stage string

const (
	StageConnect Stage = "connect"
	StageTLS     Stage = "tls"
	StageAuth    Stage = "auth"
	StageSend    Stage = "send"
)

// SendError reports which step of an SMTP exchange failed.
type SendError struct {
	Stage Stage
	Err   error
}

func (e *SendError) Error() string {
	switch e.Stage {
	case StageAuth:
		return fmt.Sprintf("smtp authentication failed: %v", e.Err)
	case StageTLS:
		return fmt.Sprintf("smtp tls negotiation failed: %v", e.Err)
	case StageConnect:
		return fmt.Sprintf("smtp connection failed: %v", e.Err)
	default:
		return fmt.Sprintf("smtp send failed: %v", e.Err)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Permanent reports whether the server answered with a 5xx reply.
func (e *SendError) Permanent() bool {
	var smtpErr *smtp.SMTPError
	if errors.As(e.Err, &smtpErr) {
		return smtpErr.Code >= 500
	}
	return false
}

type SMTPTransport struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Security  Security
	Timeout   time.Duration
	TLSConfig *tls.Config
}

func (t *SMTPTransport) addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t *SMTPTransport) tlsConfig() *tls.Config {
	if t.TLSConfig != nil {
		return t.TLSConfig
	}
	return &tls.Config{ServerName: t.Host, MinVersion: tls.VersionTLS12}
}

func (t *SMTPTransport) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, &SendError{Stage: StageConnect, Err: err}
	}

	var client *smtp.Client
	switch t.Security {
	case SecurityImplicitTLS:
		client = smtp.NewClient(tls.Client(conn, t.tlsConfig()))
	case SecurityStartTLS:
		client, err = smtp.NewClientStartTLS(conn, t.tlsConfig())
		if err != nil {
			conn.Close()
			return nil, &SendError{Stage: StageTLS, Err: err}
		}
	default:
		client = smtp.NewClient(conn)
	}
	if t.Timeout > 0 {
		client.CommandTimeout = t.Timeout
		client.SubmissionTimeout = t.Timeout
	}
	return client, nil
}

func (t *SMTPTransport) login(client *smtp.Client) error {
	if err := client.Auth(sasl.NewPlainClient("", t.Username, t.Password)); err != nil {
		return &SendError{Stage: StageAuth, Err: err}
	}
	return nil
}

func (t *SMTPTransport) Probe(ctx context.Context) error {
	client, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := t.login(client); err != nil {
		return err
	}
	return client.Quit()
}

func (t *SMTPTransport) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	client, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := t.login(client); err != nil {
		return err
	}
	if err := client.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		return &SendError{Stage: StageSend, Err: err}
	}
	if err := client.Quit(); err != nil {
		return &SendError{Stage: StageSend, Err: err}
	}
	return nil
}
