package lobby

import (
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mathblast/internal/protocol"
	"github.com/cory-johannsen/mathblast/internal/roster"
)

// handler runs the read loop of one connection.
type handler struct {
	server *Server
	conn   *Conn
	logger *zap.Logger
}

// run reads lines until the connection fails and dispatches each one.
// Malformed lines are dropped without a reply.
//
// Postcondition: Returns the read error that ended the loop.
func (h *handler) run() error {
	for {
		line, err := h.conn.ReadLine()
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		h.dispatch(line)
	}
}

func (h *handler) dispatch(line string) {
	msg, err := protocol.Decode(line)
	switch {
	case errors.Is(err, protocol.ErrUnknownCommand):
		h.passthrough(line)
		return
	case err != nil:
		h.logger.Debug("dropping malformed line", zap.Error(err))
		return
	}

	switch msg.Command {
	case protocol.CmdJoin:
		h.join(msg.Field(0))
	case protocol.CmdChat:
		h.chat(line)
	case protocol.CmdReady:
		h.ready(line, msg.Field(1) == "1")
	case protocol.CmdLevel:
		h.level(msg.Field(1))
	case protocol.CmdListQuery:
		h.listQuery()
	case protocol.CmdStartQuery:
		h.startQuery()
	default:
		// LEAVE, LIST and START are server-originated; relay them like any
		// other unrecognized line.
		h.passthrough(line)
	}
}

func (h *handler) join(name string) {
	s := h.server
	s.order.Lock()
	defer s.order.Unlock()

	p, snap, err := s.roster.Join(h.conn.ID(), name)
	if err != nil {
		h.logger.Warn("join failed", zap.Error(err))
		return
	}
	h.logger.Info("participant joined", zap.String("name", p.Name))
	s.broadcast(protocol.Join(p.Name).String(), protocol.List(snap).String())
}

// chat relays the line verbatim to every connection, sender included.
func (h *handler) chat(line string) {
	s := h.server
	s.order.Lock()
	defer s.order.Unlock()
	s.broadcast(line)
}

func (h *handler) ready(line string, ready bool) {
	s := h.server
	s.order.Lock()
	defer s.order.Unlock()

	p, snap, barrier, err := s.roster.SetReady(h.conn.ID(), ready)
	if err != nil {
		h.logUpdateError("ready", err)
		return
	}
	h.logger.Debug("ready updated", zap.String("name", p.Name), zap.Bool("ready", p.Ready))
	lines := []string{line, protocol.List(snap).String()}
	// No latch: every READY that leaves the barrier satisfied starts again.
	if barrier {
		h.logger.Info("all participants ready, starting", zap.Int("participants", len(snap)))
		lines = append(lines, protocol.Start().String())
	}
	s.broadcast(lines...)
}

func (h *handler) level(raw string) {
	level, err := strconv.Atoi(raw)
	if err != nil {
		level = 1
	}

	s := h.server
	s.order.Lock()
	defer s.order.Unlock()

	snap, err := s.roster.SetLevel(h.conn.ID(), level)
	if err != nil {
		h.logUpdateError("level", err)
		return
	}
	s.broadcast(protocol.List(snap).String())
}

func (h *handler) passthrough(line string) {
	s := h.server
	s.order.Lock()
	defer s.order.Unlock()
	s.broadcast(line)
}

// listQuery answers LIST? with the current snapshot. The snapshot is queued
// under the order lock so it cannot overtake a newer broadcast LIST.
func (h *handler) listQuery() {
	s := h.server
	s.order.Lock()
	defer s.order.Unlock()
	h.reply(protocol.List(s.roster.Snapshot()))
}

func (h *handler) startQuery() {
	s := h.server
	s.order.Lock()
	defer s.order.Unlock()
	if s.roster.ReadyBarrier() {
		h.reply(protocol.Start())
	}
}

// reply sends a message to the requesting connection only.
// The caller must hold the server's order lock.
func (h *handler) reply(msg protocol.Message) {
	if err := h.conn.Send(msg.String()); err != nil {
		h.logger.Debug("reply not delivered", zap.Error(err))
		_ = h.conn.Close()
	}
}

func (h *handler) logUpdateError(op string, err error) {
	if errors.Is(err, roster.ErrNotJoined) {
		h.logger.Debug("update before join ignored", zap.String("op", op))
		return
	}
	h.logger.Warn("update failed", zap.String("op", op), zap.Error(err))
}
