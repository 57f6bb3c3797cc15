package sender

import (
	"bufio"
	"context"
	"net"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers a minimal SMTP dialogue on conn and returns every
// command line and the DATA payload it received.
func scriptedServer(conn net.Conn, done chan<- []string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	var got []string
	write("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			done <- got
			return
		}
		line = strings.TrimRight(line, "\r\n")
		got = append(got, line)

		switch cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); cmd {
		case "EHLO", "HELO":
			write("250 localhost")
		case "MAIL", "RCPT":
			write("250 OK")
		case "DATA":
			write("354 go ahead")
			var body []string
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					done <- got
					return
				}
				l = strings.TrimRight(l, "\r\n")
				if l == "." {
					break
				}
				body = append(body, l)
			}
			got = append(got, "BODY:"+strings.Join(body, "\n"))
			write("250 queued")
		case "QUIT":
			write("221 bye")
			done <- got
			return
		default:
			write("502 unknown")
		}
	}
}

func TestSendMailViaSMTPClient(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	done := make(chan []string, 1)
	go scriptedServer(serverConn, done)

	client, err := smtp.NewClient(clientConn, "localhost")
	require.NoError(t, err)
	defer client.Close()

	raw := []byte("Subject: hi\r\n\r\nhello\r\n")
	err = sendMailViaSMTPClient(client, Envelope{
		From: "me@example.com",
		To:   []string{"a@example.com", "hidden@example.com"},
	}, raw)
	require.NoError(t, err)

	got := <-done
	assert.Contains(t, got, "MAIL FROM:<me@example.com>")
	assert.Contains(t, got, "RCPT TO:<a@example.com>")
	assert.Contains(t, got, "RCPT TO:<hidden@example.com>")
	assert.Contains(t, got, "BODY:Subject: hi\n\nhello")
}

func TestSendValidatesEnvelope(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: "1"}, nil)

	assert.Error(t, s.Send(context.Background(), Envelope{To: []string{"a@example.com"}}, []byte("x")))
	assert.Error(t, s.Send(context.Background(), Envelope{From: "me@example.com"}, []byte("x")))
}

func TestSendDialFailure(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: "1"}, nil)

	err := s.Send(context.Background(), Envelope{From: "me@example.com", To: []string{"a@example.com"}}, []byte("x"))

	assert.Error(t, err)
}
