// Package config loads the service configuration from YAML and the
// environment, and hot-reloads it when the file changes.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/tripwire/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRIPWIRE_"

// Loader reads a YAML config file and watches it for changes. An empty
// path yields defaults plus environment overrides.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *domain.Config
	onChange []func(*domain.Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Load reads path once.
func Load(path string) (*domain.Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config(), nil
}

// Config returns the current configuration. Treat it as read-only.
func (l *Loader) Config() *domain.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Path returns the watched file.
func (l *Loader) Path() string {
	return l.path
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*domain.Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the config when the file is written or replaced. The
// directory is watched so editors that save by rename are seen too. A file
// that fails to load is logged and the previous config stays in effect.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					if _, err := l.Reload(); err != nil {
						slog.Error("config reload failed, keeping previous config",
							"path", l.path,
							"error", err,
						)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "path", l.path, "error", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*domain.Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*domain.Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	slog.Info("config loaded", "path", l.path, "tier", cfg.Tier)
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*domain.Config, error) {
	var data []byte
	if l.path != "" {
		var err error
		data, err = os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}

	// The tier picks the defaults the file is layered over.
	var head struct {
		Tier domain.Tier `yaml:"tier"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	tier := head.Tier
	if v := os.Getenv(EnvPrefix + "TIER"); v != "" {
		tier = domain.Tier(v)
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	if tier != "" {
		cfg.Tier = tier
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", l.path, err)
	}
	return cfg, nil
}

// applyEnv overrides file values with TRIPWIRE_* variables.
func applyEnv(cfg *domain.Config) error {
	str := map[string]*string{
		"HOST":              &cfg.Server.Host,
		"SQLITE_PATH":       &cfg.Repository.SQLitePath,
		"POSTGRES_HOST":     &cfg.Repository.PostgresHost,
		"POSTGRES_USER":     &cfg.Repository.PostgresUser,
		"POSTGRES_PASSWORD": &cfg.Repository.PostgresPassword,
		"POSTGRES_DB":       &cfg.Repository.PostgresDB,
		"REDIS_ADDR":        &cfg.Cache.RedisAddr,
		"REDIS_PASSWORD":    &cfg.Cache.RedisPassword,
		"NATS_URL":          &cfg.EventBus.NATSUrl,
		"NATS_TOKEN":        &cfg.EventBus.NATSToken,
		"NATS_QUEUE_GROUP":  &cfg.EventBus.NATSQueueGroup,
		"DISTANCE_URL":      &cfg.Geo.RemoteURL,
		"LOG_LEVEL":         &cfg.Logging.Level,
		"LOG_FORMAT":        &cfg.Logging.Format,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":          &cfg.Server.Port,
		"POSTGRES_PORT": &cfg.Repository.PostgresPort,
		"MAX_WORKERS":   &cfg.Engine.MaxWorkers,
		"LOOKBACK_DAYS": &cfg.Engine.LookbackDays,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv(EnvPrefix + "TIMEZONE"); ok {
		cfg.Detection = cfg.Detection.Clone()
		cfg.Detection.TimeZone = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	if os.Getenv(EnvPrefix+"DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server maxBodyBytes must not be negative")
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", cfg.Tier)
	}
	if cfg.Engine.LookbackDays < 0 {
		return fmt.Errorf("engine lookbackDays must not be negative")
	}
	if cfg.Detection == nil {
		return fmt.Errorf("detection config is required")
	}
	if err := cfg.Detection.Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	for _, d := range cfg.Geo.Distances {
		if d.Km < 0 {
			return fmt.Errorf("distance %s-%s is negative", d.From, d.To)
		}
	}
	return nil
}

// LogLevel maps the configured level name onto slog.
func LogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
