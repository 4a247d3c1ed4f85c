package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/arzzra/ws_softphone/pkg/media_sdp"
	"github.com/arzzra/ws_softphone/pkg/softphone"
)

// cliConfig параметры командной строки.
// Приоритет: флаги > переменные окружения > значения по умолчанию.
type cliConfig struct {
	AOR          string
	Username     string
	Password     string
	TransportURL string
	DisplayName  string
	Expires      time.Duration
	SetupTimeout time.Duration

	Codecs        string
	PriorityCodec int
	STUNServers   string

	LogLevel    string
	LogFormat   string
	MetricsAddr string
	EnvFile     string
}

const envPrefix = "SOFTPHONE_"

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "console"
	defaultCodecs    = "opus,PCMU"
)

func loadConfig(args []string, stderr io.Writer) (*cliConfig, error) {
	cfg := &cliConfig{}

	fs := flag.NewFlagSet("softphone", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.AOR, "aor", "", "адрес регистрации, например sip:7000@pbx.example")
	fs.StringVar(&cfg.Username, "username", "", "имя для digest аутентификации (по умолчанию user из AOR)")
	fs.StringVar(&cfg.Password, "password", "", "пароль")
	fs.StringVar(&cfg.TransportURL, "ws-url", "", "адрес WebSocket сервера (ws:// или wss://)")
	fs.StringVar(&cfg.DisplayName, "display-name", "", "отображаемое имя")
	fs.DurationVar(&cfg.Expires, "expires", 600*time.Second, "запрашиваемое время регистрации")
	fs.DurationVar(&cfg.SetupTimeout, "setup-timeout", 0, "ограничение на установление вызова (0 = нет)")
	fs.StringVar(&cfg.Codecs, "codecs", defaultCodecs, "кодеки offer через запятую")
	fs.IntVar(&cfg.PriorityCodec, "priority-codec", int(media_sdp.PayloadTypePCMU), "payload type, который ставится первым в m=audio")
	fs.StringVar(&cfg.STUNServers, "stun", "", "STUN серверы через запятую для определения внешнего адреса")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "уровень логов (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "формат логов (console, json, text)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "адрес HTTP сервера /metrics (пусто = отключено)")
	fs.StringVar(&cfg.EnvFile, "env-file", ".env", "файл с переменными окружения")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(cfg.EnvFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("загрузка %s: %w", cfg.EnvFile, err)
	}
	applyEnvOverrides(fs, cfg)

	if cfg.PriorityCodec < 0 || cfg.PriorityCodec > 127 {
		return nil, fmt.Errorf("priority-codec должен быть в диапазоне 0..127, получено %d", cfg.PriorityCodec)
	}
	return cfg, nil
}

// applyEnvOverrides подставляет SOFTPHONE_* для флагов, не заданных явно
func applyEnvOverrides(fs *flag.FlagSet, cfg *cliConfig) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] || f.Name == "env-file" {
			return
		}
		env := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv(env)
		if !ok || val == "" {
			return
		}
		if err := f.Value.Set(val); err != nil {
			fmt.Fprintf(fs.Output(), "пропущено %s=%q: %v\n", env, val, err)
		}
	})
}

// phoneConfig переводит параметры командной строки в конфигурацию софтфона
func (c *cliConfig) phoneConfig(logger *slog.Logger) *softphone.Config {
	cfg := softphone.DefaultConfig()
	cfg.AOR = c.AOR
	cfg.Username = c.Username
	cfg.Password = c.Password
	cfg.TransportURL = c.TransportURL
	cfg.DisplayName = c.DisplayName
	cfg.RegisterExpires = c.Expires
	cfg.SetupTimeout = c.SetupTimeout
	cfg.Media.PreferredCodecs = splitList(c.Codecs)
	cfg.Media.PriorityCodec = uint8(c.PriorityCodec)
	if servers := splitList(c.STUNServers); len(servers) > 0 {
		cfg.Media.ICEServers = servers
		cfg.GatherCandidates = true
	}
	cfg.Logger = logger
	return cfg
}

func (c *cliConfig) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if v, err := strconv.Atoi(c.LogLevel); err == nil {
		return slog.Level(v)
	}
	return slog.LevelInfo
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
