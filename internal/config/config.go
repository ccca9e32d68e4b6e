package config

import (
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"log"
	"sync"
	"time"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	Telegram struct {
		ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
		AdminId int64  `yaml:"admin_id" env-default:"0"`
		Enabled bool   `yaml:"enabled" env-default:"false"`
	} `yaml:"telegram"`
	OpenAI struct {
		ApiKey        string  `yaml:"api_key" env:"OPENAI_API_KEY" env-default:""`
		Model         string  `yaml:"model" env-default:"gpt-4o-mini"`
		SystemPrompt  string  `yaml:"system_prompt" env-default:"You are a helpful customer support assistant. Answer briefly and offer further help."`
		MaxTokens     int     `yaml:"max_tokens" env-default:"200"`
		Temperature   float32 `yaml:"temperature" env-default:"0.7"`
		FallbackReply string  `yaml:"fallback_reply" env-default:"Sorry, I cannot answer right now. An operator will follow up."`
	} `yaml:"openai"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:"admin"`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:"pass"`
		Database string `yaml:"database" env-default:"supportdesk"`
	} `yaml:"mongo"`
	Auth struct {
		Secret   string        `yaml:"secret" env:"AUTH_SECRET" env-default:""`
		TokenTTL time.Duration `yaml:"token_ttl" env-default:"12h"`
	} `yaml:"auth"`
	Conversation struct {
		InactivityTimeout time.Duration `yaml:"inactivity_timeout" env-default:"5m"`
		SweepInterval     time.Duration `yaml:"sweep_interval" env-default:"30s"`
		HandoffKeywords   []string      `yaml:"handoff_keywords" env-default:"human,agent,operator,person"`
		HandoffReply      string        `yaml:"handoff_reply" env-default:"An operator will join the conversation shortly."`
	} `yaml:"conversation"`
	Channel struct {
		OutboundURL string        `yaml:"outbound_url" env:"CHANNEL_OUTBOUND_URL" env-default:""`
		ApiKey      string        `yaml:"api_key" env:"CHANNEL_API_KEY" env-default:""`
		Timeout     time.Duration `yaml:"timeout" env-default:"10s"`
	} `yaml:"channel"`
	Desk struct {
		BaseURL         string        `yaml:"base_url" env:"DESK_BASE_URL" env-default:"http://127.0.0.1:9100"`
		Token           string        `yaml:"token" env:"DESK_TOKEN" env-default:""`
		RequestTimeout  time.Duration `yaml:"request_timeout" env-default:"10s"`
		RefreshInterval time.Duration `yaml:"refresh_interval" env-default:"0s"`
		MatchWindow     time.Duration `yaml:"match_window" env-default:"5m"`
	} `yaml:"desk"`
	Listen struct {
		BindIP         string   `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port           string   `yaml:"port" env-default:"9100"`
		// AllowedOrigins lists browser consoles allowed to call the api.
		AllowedOrigins []string `yaml:"allowed_origins" env-default:"http://localhost:3000"`
	} `yaml:"listen"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("%s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}
