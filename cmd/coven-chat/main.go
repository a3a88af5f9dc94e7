// ABOUTME: Entry point for the coven-chat conversation server
// ABOUTME: Wires storage, presence, routing, and the HTTP/WebSocket surface

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/agent"
	"github.com/2389/coven-chat/internal/agent/seed"
	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/channel"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/handover"
	"github.com/2389/coven-chat/internal/nlu"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/router"
	"github.com/2389/coven-chat/internal/scheduling"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/upload"
)

var version = "dev"

const banner = `
   __________ _    _____  _   __    _____ __  ______ _______
  / ____/ __ \ |  / / _ \/ | / /___/ __(_) /_/ ____//_  __/_)
 / /   / / / / | / / __/  |/ // ___/ / / / __/ /      / /  /
/ /___/ /_/ /| |/ / __| |\  // /__/ /_/ / /_/ /___    / /
\____/\____/ |___/_/  |_| \_/\___/\____/\__/\____/   /_/
`

func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CHAT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "coven-chat.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven-chat", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-chat <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                   Start the conversation server")
		fmt.Println("  bootstrap --name NAME --email EMAIL --password PASSWORD")
		fmt.Println("                          Create the first operator account")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	st, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	pres := presence.New(nil, logger)
	if cfg.Presence.Backend == "amqp" {
		backend, err := presence.NewAMQPBackend(ctx, cfg.Presence.AMQPURL, cfg.Presence.AMQPExchange, cfg.Presence.AMQPQueueName, pres, logger)
		if err != nil {
			return fmt.Errorf("connecting presence amqp backend: %w", err)
		}
		pres.SetBackend(backend)
	}

	classifier := buildClassifier(cfg.NLU, logger)

	credentials := agent.NewEnvCredentialResolver()
	llm := agent.NewAnthropicLLM(cfg.Agents.DefaultAPIKey, cfg.Agents.ModelName, credentials)
	agents := agent.New(agent.Config{
		MaxOutputTokens: cfg.Agents.MaxOutputTokens,
		ReplyDeadline: cfg.Agents.ReplyDeadline,
	}, st, llm, logger)

	if cfg.Agents.SeedBundleDir != "" {
		bundles, err := seed.LoadDir(cfg.Agents.SeedBundleDir)
		if err != nil {
			return fmt.Errorf("loading custom-agent seed bundles: %w", err)
		}
		created, err := seed.Apply(ctx, st, bundles)
		if err != nil {
			return fmt.Errorf("seeding custom agents: %w", err)
		}
		if created > 0 {
			logger.Info("seeded custom agents", "count", created)
		}
	}

	ho := handover.New(handover.Config{
		ConfidenceFloor: cfg.NLU.ConfidenceFloor,
		OutOfHoursForbidsBotOnly: cfg.Handover.OutOfHoursForbidsBotOnly,
		OnCallStartHour: cfg.Handover.OnCallStartHour,
		OnCallEndHour: cfg.Handover.OnCallEndHour,
		TimeZone: cfg.Handover.TimeZone,
	}, st, logger)

	// coven-chat ships no external calendar SDK in its dependency stack;
	// LocalProvider persists commitments directly through store.Store and
	// needs no OAuth round-trip, matching a single-tenant deployment with
	// no Google/Microsoft calendar integration configured.
	calendarProvider := scheduling.NewLocalProvider("")
	sched := scheduling.New(scheduling.Config{
		WorkingDays: cfg.Scheduling.WorkingDays,
		WorkingHourStart: cfg.Scheduling.WorkingHourStart,
		WorkingHourEnd: cfg.Scheduling.WorkingHourEnd,
		SlotDuration: cfg.Scheduling.SlotDuration,
		TimeZone: cfg.Scheduling.TimeZone,
		AutoCommitDefault: cfg.Scheduling.AutoCommitDefault,
		CommitDeadline: cfg.Scheduling.CommitDeadline,
	}, st, calendarProvider, logger)

	objects, err := upload.NewLocalObjectStore(cfg.Uploads.StorageDir, cfg.Uploads.PublicBaseURL, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("opening local object store: %w", err)
	}
	var transcriber upload.Transcriber
	if cfg.Uploads.TranscriptionEndpoint != "" {
		transcriber = upload.NewHTTPTranscriber(cfg.Uploads.TranscriptionEndpoint, objects)
	}
	uploads := upload.New(upload.Config{
		AllowedMimeTypes: cfg.Uploads.AllowedMimeTypes,
		MaxSizeBytes: cfg.Uploads.MaxSizeBytes,
		CredentialTTL: cfg.Uploads.CredentialTTL,
	}, st, objects, transcriber, logger)

	channels, verifyTokens := buildChannels(cfg.Channels, logger)

	rt := router.New(router.Config{HistoryWindow: cfg.Agents.HistoryWindow}, st, pres, classifier, agents, ho, sched, channels, logger)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	srv := api.New(api.Config{
		HTTPAddr: cfg.Server.HTTPAddr,
		TokenTTL: cfg.Auth.TokenTTL,
	}, api.Server{
		Store: st,
		Presence: pres,
		Router: rt,
		Handover: ho,
		Scheduling: sched,
		Agents: agents,
		Uploads: uploads,
		Channels: channels,
		Classifier: classifier,
		Verifier: verifier,
		Objects: objects,
		WebhookVerifyTokens: verifyTokens,
	}, logger)

	logger.Info("starting coven-chat", "config", configPath, "http_addr", cfg.Server.HTTPAddr)
	return srv.Run(ctx)
}

func buildClassifier(cfg config.NLUConfig, logger *slog.Logger) nlu.Classifier {
	rule := nlu.NewRuleClassifier()
	if cfg.Strategy != "model" {
		return rule
	}
	model := nlu.NewModelClassifier(cfg.APIKey, cfg.ModelName)
	return nlu.NewFallbackClassifier(model, rule, cfg.Deadline, logger)
}

func buildChannels(cfg config.ChannelsConfig, logger *slog.Logger) (*channel.Registry, map[channel.Kind]string) {
	seen := dedupe.New(24*time.Hour, 100_000)
	registry := channel.New(seen, logger)
	verifyTokens := make(map[channel.Kind]string)

	register := func(kind channel.Kind, creds config.ChannelCredentials) {
		if !creds.Enabled {
			return
		}
		if kind == channel.KindWhatsAppDeviceSess {
			// The device-session variant has no webhook signature to
			// verify and reuses access_token as the paired session id.
			registry.Register(channel.NewDeviceSessionProvider(creds.SendEndpoint, creds.AccessToken), nil)
			return
		}
		provider := channel.NewHTTPProvider(kind, creds.SendEndpoint, creds.AccessToken)
		var verifier channel.WebhookVerifier
		if creds.WebhookSecret != "" {
			verifier = channel.NewHMACVerifier(creds.WebhookSecret, "sha256=")
		}
		registry.Register(provider, verifier)
		if creds.WebhookVerifyToken != "" {
			verifyTokens[kind] = creds.WebhookVerifyToken
		}
	}

	register(channel.KindWhatsAppCloud, cfg.WhatsAppCloud)
	register(channel.KindWhatsAppDeviceSess, cfg.WhatsAppDeviceSess)
	register(channel.KindInstagram, cfg.Instagram)
	register(channel.KindFacebookMessenger, cfg.FacebookMessenger)

	return registry, verifyTokens
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{level: level}
	}
	return slog.New(handler)
}

// colorHandler gives terse, colorized console output for local development;
// cfg.Format == "json" switches to the stdlib JSON handler for production.
type colorHandler struct {
	mu sync.Mutex
	level slog.Level
	attrs []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}

// runBootstrap creates a config file (with a random JWT secret) if none
// exists, then creates the first operator account directly against the
// store so there is a usable login before any client has registered one.
func runBootstrap(ctx context.Context) error {
	var displayName, email, password string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--name" && i+1 < len(args):
			displayName = args[i+1]
			i++
		case args[i] == "--email" && i+1 < len(args):
			email = args[i+1]
			i++
		case args[i] == "--password" && i+1 < len(args):
			password = args[i+1]
			i++
		}
	}
	if displayName == "" || email == "" || password == "" {
		return fmt.Errorf("--name, --email, and --password are all required")
	}

	configPath := getConfigPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating jwt secret: %w", err)
		}
		jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		dbPath := filepath.Join(filepath.Dir(configPath), "coven-chat.db")
		content := fmt.Sprintf(`server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "24h"

nlu:
  strategy: "rule"

presence:
  backend: "local"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)
		if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	logger := setupLogger(cfg.Logging)
	st, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	if _, err := st.GetUserByEmail(ctx, email); err == nil {
		return fmt.Errorf("a user with email %q already exists", email)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking existing user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		ID: uuid.NewString(),
		DisplayName: displayName,
		Email: email,
		PasswordHash: hash,
		CreatedAt: time.Now(),
	}
	if err := st.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(user.ID, 30*24*time.Hour)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green.Println("  Bootstrap complete!")
	fmt.Printf("  ID:    %s\n", user.ID)
	fmt.Printf("  Email: %s\n", user.Email)
	fmt.Printf("  Token: %s\n", token)
	fmt.Println()
	fmt.Println("  Start the server with: coven-chat serve")

	return nil
}
