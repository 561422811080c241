package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"retroboard/internal/checkpoint"
	"retroboard/internal/roster"
	"retroboard/internal/transport"
)

// arbitrate claims the board's host identity. Whoever gets it hosts; a
// participant that finds it taken joins as a guest; a participant that
// cannot get any identity works offline from its checkpoint.
func (s *Session) arbitrate(ctx context.Context) {
	snap, saved := s.loadCheckpoint(ctx)

	peer, err := s.net.Claim(ctx, transport.HostIdentity(s.state.ID))
	switch {
	case err == nil:
		s.peer = peer
		s.becomeHost(snap, RoleHost)
	case errors.Is(err, transport.ErrIdentityTaken):
		s.logger.Info("Board already hosted, joining as guest")
		s.becomeGuest(ctx, snap, saved)
	default:
		s.logger.Warn("Network unavailable, working offline", zap.Error(err))
		s.becomeHost(snap, RoleOffline)
	}
}

func (s *Session) loadCheckpoint(ctx context.Context) (checkpoint.Snapshot, bool) {
	if s.cp == nil {
		return checkpoint.Snapshot{Columns: s.state.Columns, Name: s.state.Name}, false
	}
	snap, ok, err := s.cp.Load(ctx)
	if err != nil {
		s.logger.Error("Failed to load checkpoint", zap.Error(err))
		return checkpoint.Snapshot{Columns: s.state.Columns, Name: s.state.Name}, false
	}
	if err := s.cp.Touch(ctx, snap.Name); err != nil {
		s.logger.Warn("Failed to record recent board", zap.Error(err))
	}
	return snap, ok
}

func (s *Session) becomeHost(snap checkpoint.Snapshot, role Role) {
	s.state.Columns = snap.Columns
	s.state.Name = snap.Name
	s.state.LastMutationTs = snap.Ts
	s.hasState = true
	s.roster = roster.New(s.userName)
	s.online = nil
	s.setRole(role)
	s.publish()
}

func (s *Session) becomeGuest(ctx context.Context, snap checkpoint.Snapshot, saved bool) {
	s.state.Columns = snap.Columns
	s.state.Name = snap.Name
	s.state.LastMutationTs = snap.Ts
	s.hasState = saved
	s.online = []roster.User{}

	peer, err := s.net.Claim(ctx, "")
	if err != nil {
		s.logger.Warn("Failed to claim guest identity, working offline", zap.Error(err))
		s.becomeHost(snap, RoleOffline)
		return
	}
	s.peer = peer

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := peer.Dial(dialCtx, transport.HostIdentity(s.state.ID))
	if err != nil {
		s.logger.Warn("Failed to connect to host", zap.Error(err))
		s.setRole(RoleGuestOffline)
		s.publish()
		return
	}
	s.hostConn = conn
	s.setRole(RoleGuestConnecting)
	go s.readConn(conn)

	if err := s.sendAnnounce(ctx); err != nil {
		s.logger.Warn("Failed to announce to host", zap.Error(err))
	}
	s.publish()
}

// onPeerLost handles the loss of this participant's network identity.
func (s *Session) onPeerLost() {
	s.peer = nil
	if s.role == RoleHost {
		for id, c := range s.guests {
			c.Close()
			delete(s.guests, id)
		}
		s.roster = roster.New(s.userName)
		s.setRole(RoleOffline)
	} else {
		s.onHostLost()
	}
	s.publish()
}
