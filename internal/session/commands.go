package session

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
	"SupportDesk/internal/transport"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// errNoop short-circuits a command that is already satisfied locally.
var errNoop = errors.New("noop")

func rejected(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", transport.ErrRejected, fmt.Sprintf(format, args...))
}

// begin checks a command's preconditions on the loop and, when they hold,
// marks the command pending. A second command while one is pending fails
// here without reaching the network.
func (s *Session) begin(check func() error) error {
	var err error
	if !s.call(func() {
		if s.st.Fatal != nil {
			err = s.st.Fatal
			return
		}
		if err = check(); err != nil {
			if !errors.Is(err, errNoop) {
				s.st.LastError = err
				s.changed()
			}
			return
		}
		if s.st.CommandPending {
			err = rejected("another command is in flight")
			s.st.LastError = err
			s.changed()
			return
		}
		s.st.CommandPending = true
		s.st.LastError = nil
		s.changed()
	}) {
		return ErrClosed
	}
	return err
}

// finish clears the pending flag and applies the command outcome.
func (s *Session) finish(apply func()) bool {
	return s.call(func() {
		s.st.CommandPending = false
		apply()
		s.changed()
	})
}

// TakeControl hands the conversation from the bot to the local operator.
// A conflict means someone else got there first: the authoritative state is
// re-fetched and adopted before the conflict is returned.
func (s *Session) TakeControl(ctx context.Context) error {
	err := s.begin(func() error {
		if s.st.Status != entity.StatusBot {
			return rejected("take control needs status %s, conversation is %s", entity.StatusBot, s.st.Status)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.transport.TakeControl(ctx, s.id)
	switch {
	case err == nil:
		if !s.finish(func() { s.adoptStatus(entity.StatusHuman, s.opts.Operator) }) {
			return ErrClosed
		}
		s.log.Info("took control")
		return nil
	case errors.Is(err, transport.ErrConflict):
		s.resolveConflict(ctx, err, nil)
		return err
	default:
		if !s.finish(func() { s.fail(err) }) {
			return ErrClosed
		}
		return err
	}
}

// SendMessage appends an optimistic placeholder and submits it. On failure
// the placeholder is marked failed and stays until the operator retries or
// discards it.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	var out Outgoing
	err := s.begin(func() error {
		if content == "" {
			return rejected("message is empty")
		}
		if err := s.checkSend(); err != nil {
			return err
		}
		if s.st.CommandPending {
			return nil
		}
		out = Outgoing{
			LocalID:       uuid.NewString(),
			Content:       content,
			ProvisionalAt: s.opts.Now(),
			State:         OutgoingPending,
		}
		s.st.Outgoing = append(s.st.Outgoing, out)
		return nil
	})
	if err != nil {
		return err
	}
	return s.submit(ctx, out)
}

// Retry resubmits a failed placeholder. It is the only way a failed message
// is sent again.
func (s *Session) Retry(ctx context.Context, localID string) error {
	var out Outgoing
	err := s.begin(func() error {
		i := s.outgoingIndex(localID)
		if i < 0 || s.st.Outgoing[i].State != OutgoingFailed {
			return rejected("no failed message %s", localID)
		}
		if err := s.checkSend(); err != nil {
			return err
		}
		if s.st.CommandPending {
			return nil
		}
		s.st.Outgoing[i].State = OutgoingPending
		s.st.Outgoing[i].Err = nil
		s.st.Outgoing[i].ProvisionalAt = s.opts.Now()
		out = s.st.Outgoing[i]
		return nil
	})
	if err != nil {
		return err
	}
	return s.submit(ctx, out)
}

// Discard drops a failed placeholder.
func (s *Session) Discard(localID string) error {
	var err error
	if !s.call(func() {
		i := s.outgoingIndex(localID)
		if i < 0 || s.st.Outgoing[i].State != OutgoingFailed {
			err = rejected("no failed message %s", localID)
			return
		}
		s.removeOutgoing(i)
		s.changed()
	}) {
		return ErrClosed
	}
	return err
}

func (s *Session) submit(ctx context.Context, out Outgoing) error {
	msg, err := s.transport.SendMessage(ctx, s.id, out.Content)
	if errors.Is(err, transport.ErrConflict) {
		s.log.With(slog.String("local_id", out.LocalID), sl.Err(err)).Warn("message not sent")
		s.resolveConflict(ctx, err, func() { s.markFailed(out.LocalID, err) })
		return err
	}
	if !s.finish(func() {
		if err != nil {
			s.markFailed(out.LocalID, err)
			s.fail(err)
			return
		}
		s.confirm(out.LocalID, *msg)
	}) {
		return ErrClosed
	}
	if err != nil {
		s.log.With(slog.String("local_id", out.LocalID), sl.Err(err)).Warn("message not sent")
	}
	return err
}

func (s *Session) checkSend() error {
	switch {
	case s.st.Status == entity.StatusEnded:
		return rejected("conversation has ended")
	case s.st.Status != entity.StatusHuman:
		return rejected("take control before replying")
	case !s.st.HoldsControl():
		return rejected("conversation is handled by %s", s.st.Operator)
	}
	return nil
}

// Close ends the conversation. Closing an ended conversation succeeds
// without contacting the store.
func (s *Session) Close(ctx context.Context) error {
	err := s.begin(func() error {
		if s.st.Status == entity.StatusEnded {
			return errNoop
		}
		return nil
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	if err != nil {
		return err
	}

	err = s.transport.Close(ctx, s.id)
	switch {
	case err == nil:
		if !s.finish(func() { s.adoptStatus(entity.StatusEnded, s.st.Operator) }) {
			return ErrClosed
		}
		s.log.Info("closed conversation")
		return nil
	case errors.Is(err, transport.ErrConflict):
		s.resolveConflict(ctx, err, nil)
		return err
	default:
		if !s.finish(func() { s.fail(err) }) {
			return ErrClosed
		}
		return err
	}
}

// Refresh re-fetches the conversation on demand.
func (s *Session) Refresh(ctx context.Context) error {
	return s.pull(ctx, true)
}

// ClearError dismisses the transient error.
func (s *Session) ClearError() {
	s.post(func() {
		if s.st.LastError != nil {
			s.st.LastError = nil
			s.changed()
		}
	})
}

// resolveConflict keeps the command pending while the authoritative state is
// fetched, so the view moves straight to corrected state. apply, when set,
// runs in the same step as the snapshot.
func (s *Session) resolveConflict(ctx context.Context, cause error, apply func()) {
	s.log.With(sl.Err(cause)).Info("conflict, re-fetching")
	conv, err := s.transport.FetchConversation(ctx, s.id)
	s.finish(func() {
		if apply != nil {
			apply()
		}
		if err != nil {
			s.fail(err)
			if !errors.Is(err, transport.ErrNotFound) {
				s.st.LastError = cause
			}
			return
		}
		s.applySnapshot(conv)
	})
}
