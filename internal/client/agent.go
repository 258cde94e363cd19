// Package client implements the lobby client agent: it connects to a lobby
// server, turns incoming lines into events for a single-threaded UI context,
// and falls back to a simulated roster when no server is reachable.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mathblast/internal/config"
	"github.com/cory-johannsen/mathblast/internal/protocol"
)

// Status is the agent's connection state as seen by the UI.
type Status int

const (
	// StatusOffline means no lobby connection; the roster is simulated.
	StatusOffline Status = iota
	// StatusConnected means a lobby connection is live.
	StatusConnected
)

// String returns "Offline" or "Connected".
func (s Status) String() string {
	if s == StatusConnected {
		return "Connected"
	}
	return "Offline"
}

// ErrInvalidName is returned by NewAgent for names the protocol cannot carry.
var ErrInvalidName = errors.New("invalid player name")

// Handlers are optional callbacks invoked by Apply on the UI context.
type Handlers struct {
	OnJoin       func(name string)
	OnLeave      func(name string)
	OnChat       func(name, text string)
	OnReady      func(name string, ready bool)
	OnList       func(roster []protocol.Participant)
	OnStart      func()
	OnDisconnect func(err error)
}

// Option configures an Agent.
type Option func(*Agent)

// WithHandlers installs event callbacks.
func WithHandlers(h Handlers) Option {
	return func(a *Agent) { a.handlers = h }
}

// WithPlaceholders replaces the offline placeholder entries.
func WithPlaceholders(placeholders []protocol.Participant) Option {
	return func(a *Agent) {
		a.placeholders = append([]protocol.Participant(nil), placeholders...)
	}
}

// WithLevel sets the level announced after joining.
func WithLevel(level int) Option {
	return func(a *Agent) {
		if level >= 1 {
			a.level = level
		}
	}
}

// Agent is one participant's view of, and actions on, the lobby.
//
// Apply, Pump, the send operations, and the state readers belong to the UI
// context and must be called from a single goroutine. The reader goroutine
// only ever communicates through the Events channel.
type Agent struct {
	cfg          config.ClientConfig
	name         string
	logger       *zap.Logger
	handlers     Handlers
	placeholders []protocol.Participant

	events chan Event

	mu         sync.Mutex
	conn       net.Conn
	stop       chan struct{}
	readerDone chan struct{}

	gen        uint64
	status     Status
	roster     RosterView
	transcript []string
	ready      bool
	level      int
	started    int
}

// NewAgent creates an offline agent for the local player name.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns an agent with status StatusOffline, or ErrInvalidName.
func NewAgent(cfg config.ClientConfig, name string, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if !protocol.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	buffer := cfg.EventBuffer
	if buffer < 1 {
		buffer = 1
	}

	a := &Agent{
		cfg:          cfg,
		name:         name,
		logger:       logger.With(zap.String("name", name)),
		placeholders: append([]protocol.Participant(nil), DefaultPlaceholders...),
		events:       make(chan Event, buffer),
		level:        1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Connect dials the lobby within the configured connect timeout. On success it
// sends JOIN and starts the reader goroutine; on failure the agent goes offline
// with a simulated roster. Any previous connection is closed first.
func (a *Agent) Connect(ctx context.Context) Status {
	_ = a.Close()

	start := time.Now()
	addr := a.cfg.Addr()
	dialer := net.Dialer{Timeout: a.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		a.logger.Warn("lobby unreachable, continuing offline",
			zap.String("addr", addr),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		a.goOffline()
		return a.status
	}

	hello := protocol.Join(a.name).String()
	if a.level > 1 {
		hello += "\n" + protocol.Level(a.name, a.level).String()
	}
	if err := a.write(conn, hello); err != nil {
		a.logger.Warn("sending join failed, continuing offline", zap.String("addr", addr), zap.Error(err))
		conn.Close()
		a.goOffline()
		return a.status
	}

	a.gen++
	stop := make(chan struct{})
	done := make(chan struct{})
	a.mu.Lock()
	a.conn = conn
	a.stop = stop
	a.readerDone = done
	a.mu.Unlock()
	go a.readLoop(conn, a.gen, stop, done)

	a.status = StatusConnected
	a.ready = false
	a.roster.Replace(nil)
	a.logger.Info("connected to lobby",
		zap.String("addr", addr),
		zap.Duration("duration", time.Since(start)),
	)
	return a.status
}

// readLoop turns lines into events until the connection fails or stop is closed.
func (a *Agent) readLoop(conn net.Conn, gen uint64, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			a.post(Event{Kind: EventDisconnected, Err: err, gen: gen}, stop)
			return
		}

		ev, ok := parseEvent(strings.TrimRight(line, "\r\n"))
		if !ok {
			continue
		}
		ev.gen = gen
		if !a.post(ev, stop) {
			return
		}
	}
}

func (a *Agent) post(ev Event, stop <-chan struct{}) bool {
	select {
	case a.events <- ev:
		return true
	case <-stop:
		return false
	}
}

// Events returns the channel the reader goroutine posts to. The UI context
// receives from it and passes each event to Apply.
func (a *Agent) Events() <-chan Event {
	return a.events
}

// Pump applies every event already queued without blocking.
//
// Postcondition: Returns the number of events applied.
func (a *Agent) Pump() int {
	n := 0
	for {
		select {
		case ev := <-a.events:
			a.Apply(ev)
			n++
		default:
			return n
		}
	}
}

// Apply folds one event into the UI-visible state and runs its handler.
// Events left over from an earlier connection are ignored.
func (a *Agent) Apply(ev Event) {
	if ev.gen != 0 && ev.gen != a.gen {
		return
	}

	h := a.handlers
	switch ev.Kind {
	case EventJoin:
		a.roster.Join(ev.Name)
		if h.OnJoin != nil {
			h.OnJoin(ev.Name)
		}
	case EventLeave:
		a.roster.Leave(ev.Name)
		if h.OnLeave != nil {
			h.OnLeave(ev.Name)
		}
	case EventChat:
		a.appendChat(ev.Name, ev.Text)
		if h.OnChat != nil {
			h.OnChat(ev.Name, ev.Text)
		}
	case EventReady:
		a.roster.SetReady(ev.Name, ev.Ready)
		if h.OnReady != nil {
			h.OnReady(ev.Name, ev.Ready)
		}
	case EventList:
		a.roster.Replace(ev.Roster)
		if h.OnList != nil {
			h.OnList(a.roster.Participants())
		}
	case EventStart:
		a.started++
		if h.OnStart != nil {
			h.OnStart()
		}
	case EventDisconnected:
		a.logger.Warn("lobby connection lost, continuing offline", zap.Error(ev.Err))
		a.closeConn()
		a.goOffline()
		if h.OnDisconnect != nil {
			h.OnDisconnect(ev.Err)
		}
	}
}

// SendChat transmits a chat line, or echoes it into the transcript when offline.
func (a *Agent) SendChat(text string) {
	if a.status != StatusConnected {
		a.appendChat(a.name, text)
		return
	}
	line, err := protocol.Encode(protocol.Chat(a.name, text))
	if err != nil {
		a.logger.Debug("dropping unencodable chat", zap.Error(err))
		return
	}
	a.send(line)
}

// ToggleReady flips the local ready flag and announces it when connected.
//
// Postcondition: Returns the new ready flag.
func (a *Agent) ToggleReady() bool {
	a.ready = !a.ready
	if a.status == StatusConnected {
		a.send(protocol.Ready(a.name, a.ready).String())
	} else {
		a.roster.SetReady(a.name, a.ready)
	}
	return a.ready
}

// SetLevel records the local level and announces it when connected.
// Levels below 1 are raised to 1.
func (a *Agent) SetLevel(level int) {
	if level < 1 {
		level = 1
	}
	a.level = level
	if a.status == StatusConnected {
		a.send(protocol.Level(a.name, level).String())
	} else {
		a.roster.SetLevel(a.name, level)
	}
}

// RequestList asks the server for a fresh LIST. It does nothing offline.
func (a *Agent) RequestList() {
	if a.status == StatusConnected {
		a.send(protocol.ListQuery().String())
	}
}

// RequestStart asks the server whether everyone is ready. It does nothing offline.
func (a *Agent) RequestStart() {
	if a.status == StatusConnected {
		a.send(protocol.StartQuery().String())
	}
}

// Status returns the connection state.
func (a *Agent) Status() Status { return a.status }

// Roster returns the current roster view, simulated when offline.
func (a *Agent) Roster() []protocol.Participant { return a.roster.Participants() }

// Transcript returns the chat log as "name: text" lines.
func (a *Agent) Transcript() []string { return append([]string(nil), a.transcript...) }

// Ready returns the local ready intent.
func (a *Agent) Ready() bool { return a.ready }

// Name returns the local player name.
func (a *Agent) Name() string { return a.name }

// Level returns the local level.
func (a *Agent) Level() int { return a.level }

// Started returns how many START events have been applied.
func (a *Agent) Started() int { return a.started }

// Close closes the connection, if any, and waits for the reader goroutine to exit.
// The server notices the close and broadcasts LEAVE; no message is sent.
//
// Postcondition: A previously connected agent is offline with a simulated
// roster, and events still queued from the closed connection are ignored.
func (a *Agent) Close() error {
	err := a.closeConn()
	if a.status == StatusConnected {
		a.gen++
		a.goOffline()
	}
	return err
}

func (a *Agent) closeConn() error {
	a.mu.Lock()
	conn, stop, done := a.conn, a.stop, a.readerDone
	a.conn, a.stop, a.readerDone = nil, nil, nil
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(stop)
	err := conn.Close()
	<-done
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (a *Agent) goOffline() {
	a.status = StatusOffline
	local := protocol.Participant{Name: a.name, Level: a.level, Ready: a.ready}
	a.roster.Replace(SimulatedRoster(local, a.placeholders))
}

func (a *Agent) appendChat(name, text string) {
	a.transcript = append(a.transcript, name+": "+text)
}

// send writes line on the live connection. A failed write closes the socket so
// the reader reports the disconnect through the normal event path.
func (a *Agent) send(line string) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	if err := a.write(conn, line); err != nil {
		a.logger.Warn("lobby write failed", zap.Error(err))
		conn.Close()
	}
}

func (a *Agent) write(conn net.Conn, line string) error {
	if a.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("writing %s: %w", line, err)
	}
	return nil
}
