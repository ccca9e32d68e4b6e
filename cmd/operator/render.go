package main

import (
	"SupportDesk/entity"
	"SupportDesk/internal/view"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	dim    = color.New(color.Faint)
	bold   = color.New(color.Bold)
)

// renderConversation draws the whole conversation screen.
func renderConversation(w io.Writer, p view.Projection) {
	bold.Fprintf(w, "== %s [%s] ==\n", p.Title, p.Status)
	if p.Banner != "" {
		yellow.Fprintln(w, p.Banner)
	}
	fmt.Fprintln(w)

	failed := 0
	for _, it := range p.Items {
		stamp := dim.Sprintf("[%s, %s]", it.TimeLabel, it.Relative)
		who := roleColor(it.Role).Sprintf("%s:", it.RoleLabel)
		line := fmt.Sprintf("%s %s %s", stamp, who, it.Content)
		switch {
		case it.Failed:
			failed++
			line += red.Sprintf("  (not sent, /retry %d or /discard %d)", failed, failed)
		case it.Provisional:
			line += dim.Sprint("  (sending...)")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	if p.Fatal != "" {
		red.Fprintln(w, p.Fatal)
		return
	}
	if p.Error != "" {
		red.Fprintf(w, "error: %s  (/clear to dismiss)\n", p.Error)
	}
	if p.Busy {
		dim.Fprintln(w, "working...")
	}
	fmt.Fprintln(w, dim.Sprint("commands: "+strings.Join(actions(p), " ")))
}

func actions(p view.Projection) []string {
	var out []string
	if p.CanTakeControl {
		out = append(out, "/take")
	}
	if p.CanSendMessage {
		out = append(out, "<text>")
	}
	if p.CanClose {
		out = append(out, "/close")
	}
	return append(out, "/refresh", "/list", "/quit")
}

func roleColor(s entity.Sender) *color.Color {
	switch s {
	case entity.SenderCustomer:
		return cyan
	case entity.SenderHuman:
		return green
	}
	return yellow
}

// renderList draws the conversation table.
func renderList(w io.Writer, list []entity.ConversationSummary, now time.Time) {
	if len(list) == 0 {
		dim.Fprintln(w, "no conversations")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tOPERATOR\tCUSTOMER\tLAST MESSAGE\tWHEN")
	for _, s := range list {
		when := "-"
		if s.LastMessageTime != nil {
			when = humanize.RelTime(*s.LastMessageTime, now, "ago", "from now")
		}
		customer := s.CustomerPhone
		if customer == "" {
			customer = fmt.Sprintf("#%d", s.CustomerID)
		}
		operator := s.Operator
		if operator == "" {
			operator = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Status, operator, customer, truncate(s.LastMessage, 40), when)
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
