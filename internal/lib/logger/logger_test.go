package logger

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"SupportDesk/internal/lib/sl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSender) SendMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func TestTelegramHandlerForwardsOnlyAboveLevel(t *testing.T) {
	sender := &recordingSender{}
	log := SetupTelegramHandler(SetupLogger("local", ""), sender, slog.LevelError)

	log.With(sl.Module("test")).Info("routine")
	log.With(sl.Module("test")).Error("sweep failed", sl.Err(errors.New("mongo down")))

	require.Len(t, sender.msgs, 1)
	assert.Contains(t, sender.msgs[0], "sweep failed")
	assert.Contains(t, sender.msgs[0], "module: test")
	assert.Contains(t, sender.msgs[0], "error: mongo down")
}

func TestTelegramHandlerNilSender(t *testing.T) {
	base := SetupLogger("dev", "")
	assert.Same(t, base, SetupTelegramHandler(base, nil, slog.LevelError))
}

func TestSetupFileLogger(t *testing.T) {
	dir := t.TempDir()
	log := SetupFileLogger(dir, "operator.log", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("opened", slog.Int64("conversation", 7))

	b, err := os.ReadFile(filepath.Join(dir, "operator.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "conversation=7")
	assert.NotContains(t, string(b), "hidden")
}
