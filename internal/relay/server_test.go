package relay

import (
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

func startRelay(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })
	return srv, l.Addr().String()
}

const rawMessage = "From: Ops <ops@example.com>\r\n" +
	"To: alice@example.com\r\n" +
	"Reply-To: help@example.com\r\n" +
	"Subject: Quarterly update\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello Alice\r\n"

func TestRelayCapturesMessage(t *testing.T) {
	srv, addr := startRelay(t, Options{Auth: AuthConfig{Enabled: true, Username: "u", Password: "p"}})

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.Auth(sasl.NewPlainClient("", "u", "p")); err != nil {
		t.Fatalf("auth: %v", err)
	}
	if err := c.SendMail("ops@example.com", []string{"Alice@Example.com"}, strings.NewReader(rawMessage)); err != nil {
		t.Fatalf("send: %v", err)
	}
	c.Quit()

	captures := srv.Captures()
	if len(captures) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(captures))
	}
	got := captures[0]
	if got.Subject != "Quarterly update" {
		t.Errorf("subject = %q", got.Subject)
	}
	if len(got.To) != 1 || got.To[0] != "alice@example.com" {
		t.Errorf("to = %v", got.To)
	}
	if got.ReplyTo != "help@example.com" {
		t.Errorf("reply-to = %q", got.ReplyTo)
	}
	if !strings.Contains(got.TextBody, "Hello Alice") {
		t.Errorf("text body = %q", got.TextBody)
	}
}

func TestRelayRequiresAuth(t *testing.T) {
	_, addr := startRelay(t, Options{Auth: AuthConfig{Enabled: true, Username: "u", Password: "p"}})

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.Auth(sasl.NewPlainClient("", "u", "wrong")); err == nil {
		t.Fatal("expected bad credentials to be refused")
	}
	if err := c.SendMail("ops@example.com", []string{"a@example.com"}, strings.NewReader(rawMessage)); err == nil {
		t.Fatal("expected unauthenticated send to fail")
	}
}

func TestRelayRejectAll(t *testing.T) {
	srv, addr := startRelay(t, Options{RejectAll: true})

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	err = c.SendMail("ops@example.com", []string{"a@example.com"}, strings.NewReader(rawMessage))
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(err.Error(), "rejected") {
		t.Errorf("unexpected error %v", err)
	}
	if len(srv.Captures()) != 0 {
		t.Error("rejected mail must not be captured")
	}
}

func TestCaptureCapacity(t *testing.T) {
	b := &backend{capacity: 2}
	for _, id := range []string{"a", "b", "c"} {
		b.store(Capture{ID: id})
	}
	if len(b.captures) != 2 || b.captures[0].ID != "b" || b.captures[1].ID != "c" {
		t.Fatalf("unexpected captures %+v", b.captures)
	}
}
