package main

import (
	"SupportDesk/ai/gpt"
	"SupportDesk/bot"
	"SupportDesk/entity"
	"SupportDesk/impl/core"
	"SupportDesk/internal/config"
	repository "SupportDesk/internal/database"
	"SupportDesk/internal/http-server/api"
	"SupportDesk/internal/lib/logger"
	"SupportDesk/internal/lib/sl"
	"SupportDesk/internal/service/auth"
	"SupportDesk/internal/service/delivery"
	"SupportDesk/internal/ws"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	issue := flag.String("issue", "", "print a token for this username and exit")
	role := flag.String("role", entity.RoleOperator, "role of the issued token: operator or channel")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	authService := auth.NewAuthService(lg, conf.Auth.Secret, conf.Auth.TokenTTL)

	if *issue != "" {
		token, err := authService.Issue(*issue, *role)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if conf.Telegram.Enabled {
		tgBot, err := bot.NewTgBot(conf.Telegram.ApiKey, conf.Telegram.AdminId, lg)
		if err != nil {
			lg.Error("failed to initialize telegram bot", sl.Err(err))
		} else {
			lg = logger.SetupTelegramHandler(lg, tgBot, slog.LevelError)
			lg.Info("telegram alerts enabled")
		}
	}

	if conf.Auth.Secret == "" {
		lg.Warn("auth secret not configured, every request will be refused")
	}

	lg.Info("starting supportdesk", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	handler := core.New(lg)
	handler.SetAuthService(authService)
	handler.SetInactivity(conf.Conversation.InactivityTimeout, conf.Conversation.SweepInterval)

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.With(
			sl.Err(err),
		).Error("mongo client")
	}
	if db != nil {
		handler.SetRepository(db)
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("user", conf.Mongo.User),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo client initialized")
	} else {
		handler.SetRepository(repository.NewMemory())
		lg.Warn("mongo disabled, conversations are kept in memory")
	}

	hub := ws.NewHub(lg)
	go hub.Run()
	handler.SetBroadcaster(hub)

	responder := gpt.NewResponder(conf, lg)
	handler.SetResponder(responder)
	lg.With(
		sl.Secret("openai_key", conf.OpenAI.ApiKey),
		slog.String("model", conf.OpenAI.Model),
	).Info("bot responder initialized")

	outbound := delivery.NewDeliveryService(conf, lg)
	if outbound != nil {
		handler.SetDelivery(outbound)
		lg.With(
			slog.String("url", conf.Channel.OutboundURL),
		).Info("channel delivery initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler.Init(ctx)

	// *** blocking start with http server ***
	err = api.New(conf, lg, handler, hub)
	if err != nil {
		lg.Error("server start", sl.Err(err))
		return
	}
	lg.Error("service stopped")
}
