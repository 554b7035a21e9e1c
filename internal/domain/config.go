package domain

// Config holds the complete Tripwire configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	Engine    EngineConfig     `json:"engine" yaml:"engine"`
	Detection *DetectionConfig `json:"detection" yaml:"detection"`
	Geo       GeoConfig        `json:"geo" yaml:"geo"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
	// MaxBodyBytes caps request bodies; zero means unlimited.
	MaxBodyBytes int64 `json:"maxBodyBytes" yaml:"maxBodyBytes"`
	// AllowedOrigins enables CORS for the listed origins. "*" allows any.
	AllowedOrigins []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty"`
}

// EngineConfig tunes the rule driver.
type EngineConfig struct {
	MaxWorkers         int `json:"maxWorkers" yaml:"maxWorkers"`
	RuleTimeoutSeconds int `json:"ruleTimeoutSeconds" yaml:"ruleTimeoutSeconds"`
	// LookbackDays widens stored-event scans so window rules see context
	// before the requested range.
	LookbackDays int `json:"lookbackDays" yaml:"lookbackDays"`
}

// GeoConfig configures distance lookups.
type GeoConfig struct {
	// Distances is the static symmetric city-pair table.
	Distances []CityDistance `json:"distances,omitempty" yaml:"distances,omitempty"`
	// Cities maps city names to centroid coordinates for haversine fallback.
	Cities map[string]Coordinates `json:"cities,omitempty" yaml:"cities,omitempty"`
	// RemoteURL enables an HTTP distance backend when set.
	RemoteURL        string  `json:"remoteUrl,omitempty" yaml:"remoteUrl,omitempty"`
	RemoteTimeout    int     `json:"remoteTimeout" yaml:"remoteTimeout"` // seconds
	RemoteRPS        float64 `json:"remoteRps" yaml:"remoteRps"`
	RemoteMaxFailure uint32  `json:"remoteMaxFailures" yaml:"remoteMaxFailures"`
	CacheTTL         int     `json:"cacheTtl" yaml:"cacheTtl"` // seconds
}

// CityDistance is one entry of the static distance table.
type CityDistance struct {
	From string  `json:"from" yaml:"from"`
	To   string  `json:"to" yaml:"to"`
	Km   float64 `json:"km" yaml:"km"`
}

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	ServiceName  string `json:"serviceName" yaml:"serviceName"`
	ExporterType string `json:"exporterType" yaml:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 32 << 20,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./tripwire.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			MaxWorkers:         8,
			RuleTimeoutSeconds: 30,
			LookbackDays:       14,
		},
		Detection: DefaultDetectionConfig(),
		Geo: GeoConfig{
			RemoteTimeout:    5,
			RemoteRPS:        20,
			RemoteMaxFailure: 5,
			CacheTTL:         86400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "tripwire",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "tripwire",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       300,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
