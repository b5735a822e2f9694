package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"archivist/internal/backend"
	"archivist/internal/config"
	"archivist/internal/events"
	"archivist/internal/oidc"
	"archivist/internal/session"
	"archivist/internal/storage"
	"archivist/internal/transport"
	"archivist/pkg/logging"
)

// Application owns every component of a running archivist process.
type Application struct {
	Settings config.Config

	Vault   *storage.Vault
	API     *backend.Client
	Session *session.Manager
	OIDC    *oidc.Engine
	Events  *events.Client

	mu      sync.Mutex
	watcher *storage.Watcher
	ungate  func()
}

// NewApplication loads configuration (unless cfg.Settings is set),
// initializes logging and wires the component graph. It does not touch the
// network; call Initialize to restore a stored session.
func NewApplication(cfg *Config) (*Application, error) {
	settings, err := loadSettings(cfg)
	if err != nil {
		return nil, err
	}

	if err := initLogging(cfg, settings.Log); err != nil {
		return nil, err
	}

	vault, err := openVault(settings.Storage)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to open credential storage")
		return nil, fmt.Errorf("failed to open credential storage: %w", err)
	}

	api, err := backend.New(settings.Server.URL)
	if err != nil {
		vault.Close()
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}

	sess := session.New(api, vault)
	api.SetAuthorizedTransport(transport.New(sess, nil))

	engine, err := oidc.New(oidc.Config{
		API:              api,
		Session:          sess,
		Store:            vault.Secure(),
		DiscoveryTimeout: settings.OIDC.DiscoveryTimeout,
		UserAgent:        cfg.UserAgent,
	})
	if err != nil {
		vault.Close()
		return nil, fmt.Errorf("failed to create OIDC engine: %w", err)
	}

	stream, err := events.New(events.Config{
		Endpoint:    api,
		Tokens:      sess,
		BaseDelay:   settings.Events.BaseDelay,
		MaxDelay:    settings.Events.MaxDelay,
		MaxAttempts: settings.Events.MaxAttempts,
	})
	if err != nil {
		vault.Close()
		return nil, fmt.Errorf("failed to create event stream client: %w", err)
	}

	logging.Debug("Bootstrap", "Initialized for %s with %s storage", settings.Server.URL, settings.Storage.Backend)
	return &Application{
		Settings: settings,
		Vault:    vault,
		API:      api,
		Session:  sess,
		OIDC:     engine,
		Events:   stream,
	}, nil
}

func loadSettings(cfg *Config) (config.Config, error) {
	var settings config.Config
	if cfg.Settings != nil {
		settings = *cfg.Settings
		if err := settings.Validate(); err != nil {
			return config.Config{}, fmt.Errorf("invalid settings: %w", err)
		}
	} else {
		path := cfg.ConfigPath
		if path == "" {
			var err error
			if path, err = config.GetDefaultConfigPath(); err != nil {
				return config.Config{}, err
			}
		}
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, err
		}
		settings = loaded
	}
	if cfg.ServerURL != "" {
		settings.Server.URL = cfg.ServerURL
	}
	return settings, nil
}

func initLogging(cfg *Config, settings config.LogConfig) error {
	level, err := logging.ParseLevel(settings.Level)
	if err != nil {
		return err
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}

	var output io.Writer = os.Stderr
	if cfg.LogOutput != nil {
		output = cfg.LogOutput
	}
	if cfg.Quiet {
		output = io.Discard
	}
	logging.Init(level, output, logging.Format(settings.Format))
	return nil
}

// Initialize restores a stored session. A failure leaves the application
// usable and unauthenticated.
func (a *Application) Initialize(ctx context.Context) error {
	return a.Session.Initialize(ctx)
}

// Watch gates the event stream on the session and, for directory-backed
// storage, reloads the session when another process changes it. It is meant
// for long-running commands. Close undoes it.
func (a *Application) Watch(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ungate == nil {
		a.ungate = events.Gate(a.Session, a.Events)
	}

	dirs := a.Vault.WatchDirs()
	if a.watcher != nil || len(dirs) == 0 {
		return nil
	}
	w := storage.NewWatcher(storage.WatcherConfig{
		Dirs: dirs,
		OnChange: func() {
			if err := a.Session.Reload(ctx); err != nil {
				logging.Warn("Bootstrap", "Reloading session after storage change: %v", err)
			}
		},
	})
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to watch credential storage: %w", err)
	}
	a.watcher = w
	return nil
}

// Close stops watchers, disconnects the event stream and closes storage.
func (a *Application) Close() error {
	a.mu.Lock()
	if a.ungate != nil {
		a.ungate()
		a.ungate = nil
	}
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	a.mu.Unlock()

	a.Events.Disconnect()
	return a.Vault.Close()
}
