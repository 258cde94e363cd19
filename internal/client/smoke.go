package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cory-johannsen/mathblast/internal/config"
	"github.com/cory-johannsen/mathblast/internal/protocol"
)

// Smoke connects as name, joins, sends one chat line, and prints every line
// received during wait to out. It is a connectivity check, not a UI.
//
// Postcondition: Returns nil once wait elapses or the server closes the
// connection, or an error if the lobby could not be reached.
func Smoke(ctx context.Context, cfg config.ClientConfig, name, text string, wait time.Duration, out io.Writer) error {
	if !protocol.ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	chat, err := protocol.Encode(protocol.Chat(name, text))
	if err != nil {
		return fmt.Errorf("encoding chat: %w", err)
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Addr(), err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, protocol.Join(name).String()+"\n"+chat+"\n"); err != nil {
		return fmt.Errorf("sending to %s: %w", cfg.Addr(), err)
	}

	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			fmt.Fprintln(out, line)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("reading from %s: %w", cfg.Addr(), err)
	}
}
