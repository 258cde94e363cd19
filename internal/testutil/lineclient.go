// Package testutil provides helpers for exercising the lobby over real TCP.
package testutil

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// LineClient is a raw line-protocol test client.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &LineClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// Send writes one line terminated by "\n".
//
// Precondition: text should not contain trailing newline characters.
func (c *LineClient) Send(text string) {
	c.t.Helper()
	c.SendRaw([]byte(text + "\n"))
}

// SendRaw writes bytes unchanged.
func (c *LineClient) SendRaw(data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		c.t.Fatalf("sending %q: %v", data, err)
	}
}

// ReadLine reads one line without its terminator or fails the test on timeout.
func (c *LineClient) ReadLine(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading line: got %q, error: %v", line, err)
	}
	return strings.TrimSuffix(line, "\n")
}

// ReadUntil reads lines until one equals want, returning every line read
// including the match. It fails the test on timeout.
func (c *LineClient) ReadUntil(want string, timeout time.Duration) []string {
	c.t.Helper()
	return c.ReadUntilFunc(func(line string) bool { return line == want }, timeout,
		fmt.Sprintf("line %q", want))
}

// ReadUntilPrefix reads lines until one starts with prefix.
func (c *LineClient) ReadUntilPrefix(prefix string, timeout time.Duration) []string {
	c.t.Helper()
	return c.ReadUntilFunc(func(line string) bool { return strings.HasPrefix(line, prefix) }, timeout,
		fmt.Sprintf("prefix %q", prefix))
}

// ReadUntilFunc reads lines until match returns true.
func (c *LineClient) ReadUntilFunc(match func(string) bool, timeout time.Duration, desc string) []string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	_ = c.conn.SetReadDeadline(deadline)

	var lines []string
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			c.t.Fatalf("reading until %s: got %q, error: %v", desc, lines, err)
		}
		line = strings.TrimSuffix(line, "\n")
		lines = append(lines, line)
		if match(line) {
			return lines
		}
	}
}

// ExpectSilence asserts that nothing arrives within d.
func (c *LineClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	line, err := c.reader.ReadString('\n')
	if err == nil {
		c.t.Fatalf("expected no data, got %q", line)
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		c.t.Fatalf("expected read timeout, got %v", err)
	}
}

// ExpectClosed reads until the server closes the connection, failing the
// test if the deadline passes first.
func (c *LineClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, err := c.reader.ReadString('\n')
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			c.t.Fatalf("connection still open after %s", timeout)
		}
		return
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}
