package session

import (
	"SupportDesk/entity"
	"context"
	"log/slog"
	"sort"
)

// applySnapshot merges a full conversation payload. A payload that knows
// fewer messages than we do or ends earlier than our newest message is a
// stale response and is dropped whole. Otherwise its status replaces ours.
func (s *Session) applySnapshot(conv *entity.Conversation) {
	if conv == nil || conv.ID != s.id {
		return
	}
	if s.stale(conv) {
		s.log.With(
			slog.Int("snapshot_messages", len(conv.Messages)),
			slog.Int("known_messages", len(s.st.Messages)),
		).Debug("stale snapshot ignored")
		return
	}

	s.st.Customer = conv.Customer
	for _, m := range conv.Messages {
		s.merge(m, true)
	}
	s.adoptStatus(conv.Status, conv.Operator)
	s.st.Loading = false
	s.changed()
}

func (s *Session) stale(conv *entity.Conversation) bool {
	if len(conv.Messages) < len(s.st.Messages) {
		return true
	}
	if n := len(s.st.Messages); n > 0 && len(conv.Messages) > 0 {
		newest := conv.Messages[0]
		for _, m := range conv.Messages[1:] {
			if newest.Before(m) {
				newest = m
			}
		}
		return newest.Before(s.st.Messages[n-1])
	}
	return false
}

// applyEvent merges one push event. Events for other conversations are ignored.
func (s *Session) applyEvent(ev entity.Event) {
	if ev.ConversationID != s.id {
		return
	}

	switch ev.Type {
	case entity.EventNewMessage:
		if ev.Message == nil || !s.merge(*ev.Message, true) {
			return
		}
	case entity.EventConversationUpdated:
		if ev.Update == nil {
			return
		}
		s.adoptStatus(ev.Update.Status, ev.Update.Operator)
	case entity.EventReconnected:
		go func() { _ = s.pull(context.Background(), false) }()
		return
	default:
		return
	}
	s.changed()
}

// adoptStatus replaces the local status with an authoritative one. A
// conversation seen ended stays ended.
func (s *Session) adoptStatus(status entity.Status, operator string) {
	if !status.Valid() {
		return
	}
	if s.st.Status == entity.StatusEnded && status != entity.StatusEnded {
		s.log.With(slog.String("status", string(status))).Warn("ignoring status after end")
		return
	}
	s.st.Status = status
	s.st.Operator = operator
}

// merge inserts m in (created_at, id) order unless its id is already known.
// An unknown operator message first tries to resolve a placeholder with the
// same content sent within the match window. It reports whether m was new.
func (s *Session) merge(m entity.Message, resolvePlaceholder bool) bool {
	if _, ok := s.known[m.ID]; ok {
		return false
	}
	if resolvePlaceholder && m.Sender == entity.SenderHuman {
		if i := s.matchOutgoing(m); i >= 0 {
			s.removeOutgoing(i)
		}
	}

	msgs := s.st.Messages
	at := sort.Search(len(msgs), func(i int) bool { return m.Before(msgs[i]) })
	msgs = append(msgs, entity.Message{})
	copy(msgs[at+1:], msgs[at:])
	msgs[at] = m
	s.st.Messages = msgs
	s.known[m.ID] = struct{}{}
	return true
}

// confirm resolves the placeholder a successful submit belongs to.
func (s *Session) confirm(localID string, m entity.Message) {
	if i := s.outgoingIndex(localID); i >= 0 {
		s.removeOutgoing(i)
	}
	s.merge(m, false)
}

func (s *Session) markFailed(localID string, err error) {
	if i := s.outgoingIndex(localID); i >= 0 {
		s.st.Outgoing[i].State = OutgoingFailed
		s.st.Outgoing[i].Err = err
	}
}

// matchOutgoing prefers pending placeholders over failed ones, oldest first.
func (s *Session) matchOutgoing(m entity.Message) int {
	for _, state := range []OutgoingState{OutgoingPending, OutgoingFailed} {
		for i, o := range s.st.Outgoing {
			if o.State != state || o.Content != m.Content {
				continue
			}
			drift := m.CreatedAt.Sub(o.ProvisionalAt)
			if drift < 0 {
				drift = -drift
			}
			if drift <= s.opts.MatchWindow {
				return i
			}
		}
	}
	return -1
}

func (s *Session) outgoingIndex(localID string) int {
	for i, o := range s.st.Outgoing {
		if o.LocalID == localID {
			return i
		}
	}
	return -1
}

func (s *Session) removeOutgoing(i int) {
	s.st.Outgoing = append(s.st.Outgoing[:i], s.st.Outgoing[i+1:]...)
}
