package lobby

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mathblast/internal/protocol"
)

// Console is the operator command loop read from the server's own input.
type Console struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

// NewConsole creates a console bound to srv.
//
// Precondition: srv, in, out, and logger must be non-nil.
func NewConsole(srv *Server, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	return &Console{server: srv, in: in, out: out, logger: logger}
}

// Run processes one command per input line until quit/exit, EOF, server
// shutdown, or ctx cancellation.
//
// Postcondition: On quit/exit the server has been stopped. EOF leaves the
// server running.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-c.server.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.server.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading console input: %w", err)
			}
			c.logger.Info("console input closed; server keeps running")
			// Block until the server goes away so a closed stdin does not end the process.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.server.Done():
				return nil
			}
		case line := <-lines:
			if c.Execute(line) {
				return nil
			}
		}
	}
}

// Execute runs a single console command.
//
// Postcondition: Returns true if the command stopped the server.
func (c *Console) Execute(line string) bool {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
		return false
	case "list":
		snap := c.server.Snapshot()
		fmt.Fprintln(c.out, protocol.List(snap).String())
		c.logger.Info("console list", zap.Int("participants", len(snap)))
	case "start":
		c.logger.Info("console forcing start")
		c.server.ForceStart()
		fmt.Fprintln(c.out, "START broadcast")
	case "quit", "exit":
		c.logger.Info("console requested shutdown")
		c.server.Stop()
		return true
	case "help":
		fmt.Fprintln(c.out, "commands: list, start, quit, exit, help")
	default:
		fmt.Fprintf(c.out, "unknown command %q (try help)\n", cmd)
	}
	return false
}
