package lobby

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrSendQueueFull is returned by Send when a peer is not draining its queue.
var ErrSendQueueFull = errors.New("send queue full")

// ErrConnClosed is returned by Send after Close.
var ErrConnClosed = errors.New("connection closed")

// Conn wraps a lobby TCP connection with line-based reading and a bounded
// outbound queue drained by its own writer goroutine.
type Conn struct {
	id     string
	raw    net.Conn
	reader *bufio.Reader

	readTimeout  time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	out    chan string
	done   chan struct{}
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection; queue must be >= 1.
// Postcondition: Returns a Conn; WritePump must be started for Send to deliver.
func NewConn(id string, raw net.Conn, readTimeout, writeTimeout time.Duration, queue int) *Conn {
	if queue < 1 {
		queue = 1
	}
	return &Conn{
		id:           id,
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		out:          make(chan string, queue),
		done:         make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// ReadLine reads the next line without its "\n" or "\r\n" terminator.
// The bytes are returned as-is; UTF-8 validation is left to the decoder.
//
// Postcondition: Returns the next line, or an error (including io.EOF).
func (c *Conn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		// A partial line at EOF is discarded with the connection.
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// Send enqueues line for delivery without blocking.
//
// Postcondition: The line is queued, or an error is returned if the
// connection is closed or its queue is full.
func (c *Conn) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.out <- line:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendQueueFull, c.id)
	}
}

// WritePump writes queued lines until the connection is closed or a write fails.
// A failed write closes the connection so the blocked reader observes it.
func (c *Conn) WritePump() {
	for {
		select {
		case line := <-c.out:
			if err := c.write(line); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(line string) error {
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write([]byte(line + "\n"))
	return err
}

// Close closes the underlying TCP connection. It is safe to call more than once.
//
// Postcondition: The connection is closed and queued lines are discarded.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
