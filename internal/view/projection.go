// Package view derives what an operator screen shows from a session snapshot.
package view

import (
	"SupportDesk/entity"
	"SupportDesk/internal/session"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

const absoluteLayout = "Jan 2 15:04"

type Item struct {
	ID          int64
	LocalID     string
	Role        entity.Sender
	RoleLabel   string
	Content     string
	At          time.Time
	TimeLabel   string
	Relative    string
	Provisional bool
	Failed      bool
}

type Projection struct {
	Title          string
	Status         entity.Status
	Banner         string
	Items          []Item
	CanSendMessage bool
	CanTakeControl bool
	CanClose       bool
	Busy           bool
	Error          string
	Fatal          string
}

// Project is a pure function of the snapshot and the clock.
func Project(st session.State, now time.Time) Projection {
	p := Projection{
		Title:          st.Customer.Label(),
		Status:         st.Status,
		Banner:         banner(st),
		CanSendMessage: st.HoldsControl() && !st.CommandPending,
		CanTakeControl: st.Status == entity.StatusBot,
		CanClose:       st.Status != entity.StatusEnded,
		Busy:           st.Loading || st.CommandPending,
		Items:          make([]Item, 0, len(st.Messages)+len(st.Outgoing)),
	}
	if st.Fatal != nil {
		p.Fatal = fatalText(st.Fatal)
		p.CanSendMessage = false
		p.CanTakeControl = false
		p.CanClose = false
	}
	if st.LastError != nil {
		p.Error = st.LastError.Error()
	}

	for _, m := range st.Messages {
		p.Items = append(p.Items, Item{
			ID:        m.ID,
			Role:      m.Sender,
			RoleLabel: roleLabel(m.Sender),
			Content:   m.Content,
			At:        m.CreatedAt,
			TimeLabel: m.CreatedAt.Local().Format(absoluteLayout),
			Relative:  humanize.RelTime(m.CreatedAt, now, "ago", "from now"),
		})
	}
	for _, o := range st.Outgoing {
		p.Items = append(p.Items, Item{
			LocalID:     o.LocalID,
			Role:        entity.SenderHuman,
			RoleLabel:   roleLabel(entity.SenderHuman),
			Content:     o.Content,
			At:          o.ProvisionalAt,
			TimeLabel:   o.ProvisionalAt.Local().Format(absoluteLayout),
			Relative:    humanize.RelTime(o.ProvisionalAt, now, "ago", "from now"),
			Provisional: true,
			Failed:      o.State == session.OutgoingFailed,
		})
	}
	return p
}

func roleLabel(s entity.Sender) string {
	switch s {
	case entity.SenderCustomer:
		return "Customer"
	case entity.SenderBot:
		return "Bot"
	case entity.SenderHuman:
		return "Agent"
	}
	return string(s)
}

func banner(st session.State) string {
	switch {
	case st.Loading:
		return "Loading conversation..."
	case st.Status == entity.StatusBot:
		return "The bot is answering. Take control to reply as a human."
	case st.Status == entity.StatusHuman && !st.HoldsControl():
		return fmt.Sprintf("%s is handling this conversation.", st.Operator)
	case st.Status == entity.StatusEnded:
		return "This conversation has ended."
	}
	return ""
}

func fatalText(err error) string {
	return "Conversation unavailable: " + err.Error()
}
