package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"retroboard/internal/board"
	"retroboard/internal/protocol"
)

func (s *Session) sendAnnounce(ctx context.Context) error {
	if s.hostConn == nil {
		return ErrUnavailable
	}
	msg := protocol.Announce{UserName: s.userName}
	if s.hasState {
		cols := s.state.Columns
		msg.SavedTs = s.state.LastMutationTs
		msg.SavedState = &cols
		msg.SavedBoardName = s.state.Name
	}
	return send(ctx, s.hostConn, msg)
}

func (s *Session) sendAction(ctx context.Context, a board.Action) error {
	if s.hostConn == nil {
		return ErrUnavailable
	}
	if err := send(ctx, s.hostConn, protocol.ActionMessage{Action: a}); err != nil {
		s.logger.Warn("Failed to send action to host", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// onHostMessage replaces the cached replica with the host's snapshot. The
// snapshot is also checkpointed so this participant can carry it to a later
// host.
func (s *Session) onHostMessage(ctx context.Context, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn("Dropping host message", zap.Error(err))
		return
	}
	st, ok := msg.(protocol.SyncState)
	if !ok {
		s.logger.Warn("Ignoring unexpected message from host", zap.String("type", string(msg.Type())))
		return
	}

	s.state.Columns = normalize(st.State)
	s.state.Name = board.NormalizeName(st.BoardName)
	s.online = st.OnlineUsers
	s.state.LastMutationTs = st.StateTs
	s.hasState = true
	s.setRole(RoleGuestConnected)

	s.persist(ctx)
	s.publish()
}

func (s *Session) onHostLost() {
	if s.hostConn != nil {
		s.hostConn.Close()
		s.hostConn = nil
	}
	if s.role.IsGuest() {
		s.setRole(RoleGuestOffline)
	}
	s.publish()
}
