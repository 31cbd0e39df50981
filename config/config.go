package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// Config es la configuración completa del simulador.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Feed       FeedConfig       `yaml:"feed"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// SimulationConfig fija los parámetros de la cuenta y de la evaluación.
// Se leen una vez al arrancar, no cambian durante la ejecución.
type SimulationConfig struct {
	InitialBalance     float64 `yaml:"initial_balance"`
	FeeRate            float64 `yaml:"fee_rate"`             // fracción del notional, 0 = sin fees
	MarkMode           string  `yaml:"mark_mode"`            // CONSERVATIVE | NEUTRAL | AGGRESSIVE
	CohortWindowHours  float64 `yaml:"cohort_window_hours"`  // ventana de cohortes de evaluación
	CohortEpoch        string  `yaml:"cohort_epoch"`         // RFC3339, inicio de la cohorte 0
	DefaultQueueMode   string  `yaml:"default_queue_mode"`   // para órdenes límite sin queue_mode
	ReportEverySeconds int     `yaml:"report_every_seconds"` // 0 = solo al terminar
}

// FeedConfig controla de dónde vienen los eventos en modo replay.
type FeedConfig struct {
	Path   string `yaml:"path"`   // fichero JSONL, "-" = stdin
	Record string `yaml:"record"` // en modo live, graba snapshots a este fichero
}

// APIConfig contiene los base URLs de las APIs y qué mercados seguir en live.
type APIConfig struct {
	CLOBBase            string   `yaml:"clob_base"`
	GammaBase           string   `yaml:"gamma_base"`
	DataBase            string   `yaml:"data_base"`
	Markets             []string `yaml:"markets"` // condition_ids
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	StatusEverySeconds  int      `yaml:"status_every_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = deshabilitado
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
// Un path vacío usa solo defaults y variables de entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate comprueba los valores que no tienen default razonable.
func (c *Config) Validate() error {
	if c.Simulation.FeeRate < 0 || c.Simulation.FeeRate >= 1 {
		return fmt.Errorf("simulation.fee_rate %.4f outside [0,1)", c.Simulation.FeeRate)
	}
	if _, err := c.MarkMode(); err != nil {
		return err
	}
	if _, err := c.QueueMode(); err != nil {
		return err
	}
	if _, err := c.CohortEpoch(); err != nil {
		return err
	}
	return nil
}

// MarkMode devuelve el modo de valoración de posiciones.
func (c *Config) MarkMode() (domain.MarkMode, error) {
	m := domain.MarkMode(strings.ToUpper(c.Simulation.MarkMode))
	switch m {
	case domain.MarkConservative, domain.MarkNeutral, domain.MarkAggressive:
		return m, nil
	}
	return "", fmt.Errorf("simulation.mark_mode %q: want CONSERVATIVE, NEUTRAL or AGGRESSIVE", c.Simulation.MarkMode)
}

// QueueMode devuelve el modo de cola por defecto de las órdenes límite.
func (c *Config) QueueMode() (domain.QueueMode, error) {
	q := domain.QueueMode(strings.ToUpper(c.Simulation.DefaultQueueMode))
	switch q {
	case domain.QueueConservative, domain.QueueNeutral:
		return q, nil
	}
	return "", fmt.Errorf("simulation.default_queue_mode %q: want CONSERVATIVE or NEUTRAL", c.Simulation.DefaultQueueMode)
}

// CohortWindow devuelve la ventana de cohortes como time.Duration.
func (c *Config) CohortWindow() time.Duration {
	return time.Duration(c.Simulation.CohortWindowHours * float64(time.Hour))
}

// CohortEpoch devuelve el inicio de la cohorte 0; zero = Unix epoch.
func (c *Config) CohortEpoch() (time.Time, error) {
	if c.Simulation.CohortEpoch == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Simulation.CohortEpoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("simulation.cohort_epoch: %w", err)
	}
	return t.UTC(), nil
}

// PollInterval devuelve el intervalo de polling live como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.API.PollIntervalSeconds) * time.Second
}

// StatusInterval devuelve cada cuánto se refresca el estado de resolución.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.API.StatusEverySeconds) * time.Second
}

// ReportInterval devuelve cada cuánto se imprime el reporte; 0 = nunca.
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Simulation.ReportEverySeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYSIM_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("POLYSIM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("POLYSIM_FEE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("POLYSIM_FEE_RATE: %w", err)
		}
		cfg.Simulation.FeeRate = f
	}
	if v := os.Getenv("POLYSIM_INITIAL_BALANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("POLYSIM_INITIAL_BALANCE: %w", err)
		}
		cfg.Simulation.InitialBalance = f
	}
	if v := os.Getenv("POLYSIM_MARKETS"); v != "" {
		cfg.API.Markets = strings.Split(v, ",")
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Simulation.InitialBalance <= 0 {
		cfg.Simulation.InitialBalance = 1000
	}
	if cfg.Simulation.MarkMode == "" {
		cfg.Simulation.MarkMode = string(domain.MarkNeutral)
	}
	if cfg.Simulation.DefaultQueueMode == "" {
		cfg.Simulation.DefaultQueueMode = string(domain.QueueNeutral)
	}
	if cfg.Simulation.CohortWindowHours <= 0 {
		cfg.Simulation.CohortWindowHours = 24
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.API.PollIntervalSeconds <= 0 {
		cfg.API.PollIntervalSeconds = 5
	}
	if cfg.API.StatusEverySeconds <= 0 {
		cfg.API.StatusEverySeconds = 60
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polysim.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
