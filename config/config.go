package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Strategy StrategyConfig `yaml:"strategy"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Paper    PaperConfig    `yaml:"paper"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StrategyConfig controla el ciclo entrada → bracket → flat.
// Spreads y cantidad inicial suelen venir de los argumentos posicionales.
type StrategyConfig struct {
	ShortBigSpread         float64 `yaml:"short_big_spread"`
	ShortSmallSpread       float64 `yaml:"short_small_spread"`
	InitialQuantity        int     `yaml:"initial_quantity"`
	PollIntervalSeconds    int     `yaml:"poll_interval_seconds"`
	EntryPollSeconds       int     `yaml:"entry_poll_seconds"`
	ChaseThreshold         float64 `yaml:"chase_threshold"` // USD que tiene que subir el bid para perseguirlo
	MaxCycles              int     `yaml:"max_cycles"`      // 0 = sin límite
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	FailureCooldownSeconds int     `yaml:"failure_cooldown_seconds"`
	GroupTimeoutSeconds    int     `yaml:"group_timeout_seconds"`
	MaintenanceMargin      float64 `yaml:"maintenance_margin"`

	Ladder LadderConfig `yaml:"ladder"`
}

// LadderConfig ajusta la caída geométrica de la escalera de longs.
type LadderConfig struct {
	Index        int     `yaml:"index"`
	Multiplier   float64 `yaml:"multiplier"`
	Intercept    float64 `yaml:"intercept"`
	GrowthFactor float64 `yaml:"growth_factor"`
	MaxQuantity  int     `yaml:"max_quantity"`
}

// ExchangeConfig selecciona el venue y sus credenciales.
type ExchangeConfig struct {
	Name              string `yaml:"name"` // bybit
	Testnet           bool   `yaml:"testnet"`
	BaseURL           string `yaml:"base_url"`
	StreamURL         string `yaml:"stream_url"`
	Symbol            string `yaml:"symbol"`
	APIKey            string `yaml:"-"` // solo desde env
	APISecret         string `yaml:"-"`
	AckTimeoutSeconds int    `yaml:"ack_timeout_seconds"`
	DisableStream     bool   `yaml:"disable_stream"`
}

// PaperConfig controla el exchange simulado.
type PaperConfig struct {
	Balance float64 `yaml:"balance"` // BTC
}

// StorageConfig controla dónde se persiste el diario.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato, nivel y fichero de logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // vacío = solo stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Un path vacío o inexistente no es error: se usan env + defaults.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// PollInterval devuelve el intervalo de reconciliación.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Strategy.PollIntervalSeconds) * time.Second
}

// EntryPollInterval devuelve el intervalo de sondeo de la entrada.
func (c *Config) EntryPollInterval() time.Duration {
	return time.Duration(c.Strategy.EntryPollSeconds) * time.Second
}

// FailureCooldown devuelve la pausa tras abrirse el breaker.
func (c *Config) FailureCooldown() time.Duration {
	return time.Duration(c.Strategy.FailureCooldownSeconds) * time.Second
}

// GroupTimeout devuelve el límite de un grupo de decisiones.
func (c *Config) GroupTimeout() time.Duration {
	return time.Duration(c.Strategy.GroupTimeoutSeconds) * time.Second
}

// AckTimeout devuelve cuánto se espera la confirmación del feed.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Exchange.AckTimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	cfg.Exchange.APIKey = firstEnv("BYBIT_API_KEY", "BYBIT_MAINNET_API_KEY")
	cfg.Exchange.APISecret = firstEnv("BYBIT_API_SECRET", "BYBIT_MAINNET_API_SECRET")
	if v := os.Getenv("BYBIT_TESTNET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Exchange.Testnet = b
		}
	}
	if v := os.Getenv("CHARLIEBOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Los parámetros de la escalera a cero se dejan: domain aplica los suyos.
func setDefaults(cfg *Config) {
	s := &cfg.Strategy
	if s.PollIntervalSeconds <= 0 {
		s.PollIntervalSeconds = 10
	}
	if s.EntryPollSeconds <= 0 {
		s.EntryPollSeconds = 10
	}
	if s.ChaseThreshold <= 0 {
		s.ChaseThreshold = 5
	}
	if s.MaxConsecutiveFailures <= 0 {
		s.MaxConsecutiveFailures = 5
	}
	if s.FailureCooldownSeconds <= 0 {
		s.FailureCooldownSeconds = 120
	}
	if s.GroupTimeoutSeconds <= 0 {
		s.GroupTimeoutSeconds = 30
	}
	if s.MaintenanceMargin <= 0 {
		s.MaintenanceMargin = 0.005
	}
	if cfg.Exchange.Name == "" {
		cfg.Exchange.Name = "bybit"
	}
	if cfg.Exchange.Symbol == "" {
		cfg.Exchange.Symbol = "BTCUSD"
	}
	if cfg.Exchange.AckTimeoutSeconds <= 0 {
		cfg.Exchange.AckTimeoutSeconds = 5
	}
	if cfg.Paper.Balance <= 0 {
		cfg.Paper.Balance = 0.1
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "charliebot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 30
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9102"
	}
}
