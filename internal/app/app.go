package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"chatcoord/pkg/blob"
	"chatcoord/pkg/bus"
	"chatcoord/pkg/config"
	"chatcoord/pkg/logger"
	"chatcoord/pkg/models"
	"chatcoord/pkg/presence"
	"chatcoord/pkg/ratelimit"
	"chatcoord/pkg/session"
	"chatcoord/pkg/state"
	"chatcoord/pkg/store"
	"chatcoord/pkg/telemetry"
	"chatcoord/pkg/validation"

	"chatcoord/internal/retention"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	addr      string
	dbPath    string
	source    string
	version   string
	commit    string
	buildDate string

	bus      *bus.Bus
	registry *presence.Registry
	hub      *session.Hub
	blob     *blob.DirStore

	srv *http.Server
}

// New initializes everything that does not need a running context: config
// validation, global rules, state dirs, the store, and the chat
// components. Call Run to start the HTTP server and block until shutdown.
func New(cfg *config.Config, addr, dbPath, source, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	validation.SetRules(validation.Rules{MaxLen: cfg.Chat.MaxMessageLen})

	if err := state.EnsureStateDirs(dbPath); err != nil {
		return nil, fmt.Errorf("state dirs under %s: %w", dbPath, err)
	}
	telemetry.SetDir(state.TelemetryPath(dbPath))

	if err := store.Open(state.StorePath(dbPath)); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dbPath, err)
	}

	attDir := cfg.Server.AttachmentDir
	if attDir == "" {
		attDir = filepath.Join(dbPath, "attachments")
	}
	bs, err := blob.NewDirStore(attDir, cfg.Chat.Attachments.BaseURL, cfg.Chat.Attachments.MaxSize.Int64())
	if err != nil {
		return nil, err
	}

	b := bus.New(cfg.Chat.Bus.Buffer)
	reg := presence.NewRegistry()
	reg.SetOnChange(func(topic string, roster []models.PresenceEntry) {
		b.Publish(topic, models.PresenceChanged{
			Topic:  topic,
			Roster: roster,
			TS:     time.Now().UTC().UnixNano(),
		})
	})

	hub := session.NewHub(session.Config{
		SystemSender: cfg.Chat.SystemSender,
		PreviewLen:   cfg.Chat.PreviewLen,
		Rate: ratelimit.Config{
			MaxSends:        cfg.Chat.Rate.MaxSends,
			SendWindow:      cfg.Chat.Rate.SendWindow.Duration(),
			DuplicateWindow: cfg.Chat.Rate.DuplicateWindow.Duration(),
			LongMessageLen:  cfg.Chat.Rate.LongMessageLen,
			MaxLongMessages: cfg.Chat.Rate.MaxLongMessages,
			LongWindow:      cfg.Chat.Rate.LongWindow.Duration(),
		},
	}, b, store.NewPersistence(), cfg.Chat.Debounce.SweepInterval.Duration())

	return &App{
		cfg:       cfg,
		addr:      addr,
		dbPath:    dbPath,
		source:    source,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		bus:       b,
		registry:  reg,
		hub:       hub,
		blob:      bs,
	}, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks
// until ctx is cancelled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	retCancel, err := retention.Start(ctx, a.cfg, a.dbPath)
	if err != nil {
		return err
	}
	defer retCancel()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			a.shutdown()
			return err
		}
		return nil
	}
}

func (a *App) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.srv != nil {
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	a.hub.Close()
	if err := store.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}
	logger.Info("shutdown_complete")
}
