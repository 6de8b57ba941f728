package smtp

import (
	"bufio"
	"context"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/portal/internal/config"
)

// fakeSMTPServer accepts one connection and records the envelope and data.
type fakeSMTPServer struct {
	ln   net.Listener
	mu   sync.Mutex
	from string
	rcpt []string
	data string
	done chan struct{}
}

func newFakeSMTPServer(t *testing.T) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &fakeSMTPServer{ln: ln, done: make(chan struct{})}
	go s.serve()
	return s
}

func (s *fakeSMTPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 localhost ESMTP test")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(cmd)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(cmd[len("MAIL FROM:"):], "<> ")
			s.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, strings.Trim(cmd[len("RCPT TO:"):], "<> "))
			s.mu.Unlock()
			reply("250 OK")
		case upper == "DATA":
			reply("354 go ahead")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				data.WriteString(l)
			}
			s.mu.Lock()
			s.data = data.String()
			s.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestSender_SendMailPlain(t *testing.T) {
	srv := newFakeSMTPServer(t)
	sender := NewSender(config.SMTPConfig{
		Host:        "127.0.0.1",
		Port:        srv.port(),
		FromAddress: "no-reply@portal.local",
		FromName:    "Portal",
		Encryption:  EncryptionNone,
	})
	sender.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sender.SendMail(ctx, []string{"alice@example.com"}, "Hello", "line one\nline two"))
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "no-reply@portal.local", srv.from)
	assert.Equal(t, []string{"alice@example.com"}, srv.rcpt)

	msg, err := mail.ReadMessage(strings.NewReader(srv.data))
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Header.Get("Subject"))
	assert.Equal(t, "alice@example.com", msg.Header.Get("To"))
	assert.Contains(t, srv.data, "line one\r\nline two")
}

func TestSender_NotConfigured(t *testing.T) {
	sender := NewSender(config.SMTPConfig{})
	assert.False(t, sender.IsConfigured())
	assert.Error(t, sender.SendMail(context.Background(), []string{"a@example.com"}, "s", "b"))
}

func TestSender_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	sender := NewSender(config.SMTPConfig{Host: "127.0.0.1", Port: port, Encryption: EncryptionNone, FromAddress: "x@portal.local"})
	err = sender.SendMail(context.Background(), []string{"a@example.com"}, "s", "b")
	assert.ErrorContains(t, err, "connecting to 127.0.0.1:"+strconv.Itoa(port))
}

func TestBuildMessage_HeaderInjection(t *testing.T) {
	sender := NewSender(config.SMTPConfig{FromAddress: "no-reply@portal.local"})
	msg := sender.buildMessage(mail.Address{Address: "no-reply@portal.local"},
		[]string{"a@example.com"}, "Hi\r\nBcc: victim@example.com", "body")

	assert.NotContains(t, msg, "\r\nBcc:")
}

func TestResetCodeMail(t *testing.T) {
	m, err := ResetCodeMail("Portal", "alice@example.com", "042137", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, m.To)
	assert.Equal(t, "Portal password reset code", m.Subject)
	assert.Contains(t, m.Body, "042137")
	assert.Contains(t, m.Body, "10 minutes")
}

func TestHumanMinutes(t *testing.T) {
	assert.Equal(t, "1 minute", humanMinutes(30*time.Second))
	assert.Equal(t, "2 minutes", humanMinutes(90*time.Second))
	assert.Equal(t, "15 minutes", humanMinutes(15*time.Minute))
}
