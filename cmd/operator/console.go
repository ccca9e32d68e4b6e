package main

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
	"SupportDesk/internal/session"
	"SupportDesk/internal/transport"
	"SupportDesk/internal/view"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const clearScreen = "\033[H\033[2J"

// Desk is what the console needs from the store.
type Desk interface {
	session.Transport
	ListConversations(ctx context.Context, status entity.Status) ([]entity.ConversationSummary, error)
}

type console struct {
	desk     Desk
	creds    *transport.Credentials
	opts     session.Options
	log      *slog.Logger
	now      func() time.Time
	clear    bool
	timeout  time.Duration
	out      io.Writer
	mu       sync.Mutex
	sess     *session.Session
	last     view.Projection
	closing  bool
	commands sync.WaitGroup
}

func newConsole(desk Desk, creds *transport.Credentials, opts session.Options, out io.Writer, log *slog.Logger) *console {
	return &console{
		desk:    desk,
		creds:   creds,
		opts:    opts,
		log:     log.With(sl.Module("operator.console")),
		now:     time.Now,
		clear:   true,
		timeout: 30 * time.Second,
		out:     &lockedWriter{w: out},
	}
}

// lockedWriter serializes writes from the input loop, command goroutines and
// the session callback.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// run reads commands until EOF or /quit.
func (c *console) run(ctx context.Context, in io.Reader) error {
	defer c.shutdown()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 64*1024)
	for {
		green.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		if !c.handle(ctx, scanner.Text()) {
			return nil
		}
	}
}

func (c *console) shutdown() {
	c.commands.Wait()
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess != nil {
		sess.Destroy()
	}
}

// handle executes one input line. It returns false on /quit.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	if c.closing {
		c.closing = false
		if answer := strings.ToLower(line); answer == "y" || answer == "yes" {
			c.withSession(func(s *session.Session) {
				c.async(ctx, "close", s.Close)
			})
		} else {
			dim.Fprintln(c.out, "close cancelled")
		}
		return true
	}

	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		if id, err := strconv.ParseInt(line, 10, 64); err == nil && c.current() == nil {
			c.open(ctx, id)
			return true
		}
		c.withSession(func(s *session.Session) {
			c.async(ctx, "send", func(ctx context.Context) error { return s.SendMessage(ctx, line) })
		})
		return true
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/q":
		return false
	case "/help":
		c.help()
	case "/list":
		c.list(ctx, entity.Status(arg))
	case "/open":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			red.Fprintln(c.out, "usage: /open <conversation id>")
			return true
		}
		c.open(ctx, id)
	case "/take":
		c.withSession(func(s *session.Session) { c.async(ctx, "take control", s.TakeControl) })
	case "/close":
		c.withSession(func(s *session.Session) {
			if s.State().Status == entity.StatusEnded {
				dim.Fprintln(c.out, "conversation already ended")
				return
			}
			c.closing = true
			yellow.Fprint(c.out, "Close this conversation? [y/N] ")
		})
	case "/retry":
		c.withFailed(arg, func(s *session.Session, localID string) {
			c.async(ctx, "retry", func(ctx context.Context) error { return s.Retry(ctx, localID) })
		})
	case "/discard":
		c.withFailed(arg, func(s *session.Session, localID string) {
			if err := s.Discard(localID); err != nil {
				red.Fprintf(c.out, "discard: %v\n", err)
			}
		})
	case "/refresh":
		c.withSession(func(s *session.Session) { c.async(ctx, "refresh", s.Refresh) })
	case "/clear":
		c.withSession(func(s *session.Session) { s.ClearError() })
	case "/token":
		if arg == "" {
			red.Fprintln(c.out, "usage: /token <token>")
			return true
		}
		c.creds.Set(arg)
		green.Fprintln(c.out, "token updated")
		c.withSession(func(s *session.Session) { c.async(ctx, "refresh", s.Refresh) })
	default:
		red.Fprintf(c.out, "unknown command %s, try /help\n", cmd)
	}
	return true
}

func (c *console) help() {
	yellow.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  /list [status]     list conversations (bot, human, ended)")
	fmt.Fprintln(c.out, "  /open <id>         open a conversation")
	fmt.Fprintln(c.out, "  /take              take control from the bot")
	fmt.Fprintln(c.out, "  <text>             send a message")
	fmt.Fprintln(c.out, "  /retry <n>         resend failed message n")
	fmt.Fprintln(c.out, "  /discard <n>       drop failed message n")
	fmt.Fprintln(c.out, "  /close             end the conversation")
	fmt.Fprintln(c.out, "  /refresh           reload from the store")
	fmt.Fprintln(c.out, "  /clear             dismiss the last error")
	fmt.Fprintln(c.out, "  /token <token>     install a new token")
	fmt.Fprintln(c.out, "  /quit              exit")
}

func (c *console) current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *console) withSession(fn func(s *session.Session)) {
	s := c.current()
	if s == nil {
		red.Fprintln(c.out, "no conversation open, use /list and /open <id>")
		return
	}
	fn(s)
}

// withFailed resolves the n-th failed message of the last rendered screen.
func (c *console) withFailed(arg string, fn func(s *session.Session, localID string)) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		red.Fprintln(c.out, "usage: /retry <n> or /discard <n>")
		return
	}
	c.withSession(func(s *session.Session) {
		c.mu.Lock()
		items := c.last.Items
		c.mu.Unlock()

		seen := 0
		for _, it := range items {
			if !it.Failed {
				continue
			}
			if seen++; seen == n {
				fn(s, it.LocalID)
				return
			}
		}
		red.Fprintf(c.out, "no failed message %d\n", n)
	})
}

// async runs a session command off the input loop. The session rejects a
// second command while one is in flight.
func (c *console) async(ctx context.Context, name string, fn func(ctx context.Context) error) {
	c.commands.Add(1)
	go func() {
		defer c.commands.Done()
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.report(name, err)
		}
	}()
}

func (c *console) report(name string, err error) {
	c.log.With(slog.String("command", name), sl.Err(err)).Debug("command failed")
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case errors.Is(err, transport.ErrAuthExpired):
		yellow.Fprintln(c.out, "token expired, install a new one with /token <token>")
	case errors.Is(err, transport.ErrConflict):
		yellow.Fprintf(c.out, "%s: the conversation changed, showing the latest state\n", name)
	default:
		red.Fprintf(c.out, "%s: %v\n", name, err)
	}
}

func (c *console) list(ctx context.Context, status entity.Status) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	list, err := c.desk.ListConversations(ctx, status)
	if err != nil {
		c.report("list", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	renderList(c.out, list, c.now())
}

func (c *console) open(ctx context.Context, id int64) {
	if prev := c.swap(nil); prev != nil {
		prev.Destroy()
	}

	opts := c.opts
	opts.Operator = c.creds.Subject()
	opts.OnChange = c.show

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	s, err := session.Open(ctx, c.desk, id, opts)
	if err != nil {
		c.report("open", err)
		return
	}
	c.swap(s)
	c.show(s.State())
}

func (c *console) swap(s *session.Session) *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.sess
	c.sess = s
	return prev
}

// show runs on the session goroutine and must not call back into it.
func (c *console) show(st session.State) {
	p := view.Project(st, c.now())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = p
	if c.clear {
		fmt.Fprint(c.out, clearScreen)
	}
	renderConversation(c.out, p)
}
