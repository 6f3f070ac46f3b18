package cdr

import (
	"context"
	"log/slog"

	"callswitch/internal/session"
)

// Service coordinates record persistence and fan-out. CDR failures are
// an accounting problem, not a call-control problem; Emit logs them
// and never propagates an error into the signaling path.
type Service struct {
	log       *slog.Logger
	store     Store
	publisher Publisher
}

// NewService builds the service. Either collaborator may be nil, in
// which case that sink is skipped.
func NewService(store Store, publisher Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, store: store, publisher: publisher}
}

// Emit records the terminal state of a call. Called exactly once per
// call, from the terminal hook.
func (s *Service) Emit(ctx context.Context, c *session.Call) {
	r, err := FromCall(c)
	if err != nil {
		s.log.Error("cdr skipped", "call_id", c.ID(), "err", err)
		return
	}

	if s.store != nil {
		if err := s.store.Insert(ctx, r); err != nil {
			s.log.Error("cdr insert failed", "call_id", r.CallID, "err", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, r); err != nil {
			s.log.Warn("cdr publish failed", "call_id", r.CallID, "err", err)
		}
	}
	s.log.Info("cdr emitted",
		"call_id", r.CallID,
		"state", r.State,
		"reason", r.TerminationReason,
	)
}
