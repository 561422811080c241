package session

import (
	"context"

	"go.uber.org/zap"

	"retroboard/internal/board"
	"retroboard/internal/protocol"
	"retroboard/internal/transport"
)

func (s *Session) onGuestOpen(ctx context.Context, conn transport.Conn) {
	s.guests[conn.ID()] = conn
	s.roster.Open(conn.ID())
	s.logger.Info("Guest connected",
		zap.String("connId", conn.ID()),
		zap.String("remote", conn.RemoteID()),
		zap.Int("online", s.roster.Count()))

	go s.readConn(conn)
	s.broadcast(ctx)
	s.publish()
}

func (s *Session) onGuestClosed(ctx context.Context, conn transport.Conn) {
	if _, ok := s.guests[conn.ID()]; !ok {
		return
	}
	delete(s.guests, conn.ID())
	s.roster.Close(conn.ID())
	s.logger.Info("Guest disconnected",
		zap.String("connId", conn.ID()),
		zap.Int("online", s.roster.Count()))

	s.broadcast(ctx)
	s.publish()
}

func (s *Session) onGuestMessage(ctx context.Context, conn transport.Conn, data []byte) {
	if _, ok := s.guests[conn.ID()]; !ok {
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn("Dropping guest message",
			zap.String("connId", conn.ID()),
			zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case protocol.Announce:
		s.onAnnounce(ctx, conn, m)
	case protocol.ActionMessage:
		s.applyLocal(ctx, m.Action)
	case protocol.SyncState:
		s.logger.Warn("Ignoring SYNC_STATE sent by a guest", zap.String("connId", conn.ID()))
	}
}

// onAnnounce records the guest's name and adopts its checkpoint when it is
// strictly newer than the host's own state. This is last-writer-by-clock:
// the host's divergent edits, if any, are dropped.
func (s *Session) onAnnounce(ctx context.Context, conn transport.Conn, m protocol.Announce) {
	s.roster.Announce(conn.ID(), m.UserName)

	if m.SavedState != nil && m.SavedTs > s.state.LastMutationTs {
		s.logger.Info("Adopting newer guest checkpoint",
			zap.String("connId", conn.ID()),
			zap.Int64("hostTs", s.state.LastMutationTs),
			zap.Int64("guestTs", m.SavedTs))
		s.state.Columns = normalize(*m.SavedState)
		if m.SavedBoardName != "" {
			s.state.Name = board.NormalizeName(m.SavedBoardName)
		}
		s.state.LastMutationTs = m.SavedTs
		s.persist(ctx)
	}

	s.broadcast(ctx)
	s.publish()
}

// broadcast sends the same full snapshot to every guest connection.
func (s *Session) broadcast(ctx context.Context) {
	if s.role != RoleHost || len(s.guests) == 0 {
		return
	}
	msg := protocol.SyncState{
		State:       s.state.Columns,
		BoardName:   s.state.Name,
		OnlineUsers: s.roster.Users(),
		StateTs:     s.state.LastMutationTs,
	}
	for id, conn := range s.guests {
		if err := send(ctx, conn, msg); err != nil {
			s.logger.Warn("Failed to send state to guest",
				zap.String("connId", id),
				zap.Error(err))
		}
	}
}

// normalize replaces nil columns with empty ones.
func normalize(c board.Columns) board.Columns {
	if c.WentWell == nil {
		c.WentWell = []board.Card{}
	}
	if c.ToImprove == nil {
		c.ToImprove = []board.Card{}
	}
	if c.ActionItems == nil {
		c.ActionItems = []board.Card{}
	}
	return c
}
