// Command operator is a terminal console for answering customer conversations.
package main

import (
	"SupportDesk/internal/config"
	"SupportDesk/internal/lib/logger"
	"SupportDesk/internal/session"
	"SupportDesk/internal/transport"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", os.TempDir(), "directory for the console log file, empty to discard")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	// DESK_TOKEN and DESK_BASE_URL may come from a local .env
	_ = godotenv.Load()

	conf := config.MustLoad(*configPath)

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	lg := logger.SetupFileLogger(*logPath, "supportdesk-operator.log", level)

	if conf.Desk.Token == "" {
		color.Red("Error: no token, set desk.token or DESK_TOKEN\n")
		os.Exit(1)
	}

	ctx := context.Background()

	creds := transport.NewCredentials(conf.Desk.Token, func() {
		lg.Warn("token expired")
	})
	desk := transport.New(conf.Desk.BaseURL, creds, lg, transport.WithTimeout(conf.Desk.RequestTimeout))

	c := newConsole(desk, creds, session.Options{
		RefreshInterval: conf.Desk.RefreshInterval,
		MatchWindow:     conf.Desk.MatchWindow,
		Logger:          lg,
	}, os.Stdout, lg)

	lg.Info("operator console started",
		slog.String("desk", conf.Desk.BaseURL),
		slog.String("operator", creds.Subject()),
	)
	cyan.Printf("SupportDesk operator console, signed in as %s\n", creds.Subject())
	fmt.Println("Type /help for commands.")

	if id, err := strconv.ParseInt(flag.Arg(0), 10, 64); err == nil {
		c.open(ctx, id)
	} else {
		c.list(ctx, "")
	}

	if err := c.run(ctx, os.Stdin); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}
