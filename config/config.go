package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"landvalue/internal/models"
)

const (
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

type Config struct {
	Server struct {
		Port           string   `env:"PORT" envDefault:"5250"`
		AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
		LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	}

	Database struct {
		// Backend selects the property store: sqlite or mongo
		Backend         string `env:"STORE_BACKEND" envDefault:"sqlite"`
		Path            string `env:"DATABASE_PATH" envDefault:"database/landvalue.db"`
		MongoURI        string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
		MongoDatabase   string `env:"MONGO_DATABASE" envDefault:"landvalue"`
		MongoCollection string `env:"MONGO_COLLECTION" envDefault:"properties"`
	}

	Geocoding struct {
		BaseURL     string        `env:"GEOCODER_BASE_URL" envDefault:"https://nominatim.openstreetmap.org"`
		UserAgent   string        `env:"GEOCODER_USER_AGENT" envDefault:"LandValue Estimator/1.0"`
		CacheDir    string        `env:"GEOCODER_CACHE_DIR"`
		MinInterval time.Duration `env:"GEOCODER_MIN_INTERVAL" envDefault:"1s"`
		Timeout     time.Duration `env:"GEOCODER_TIMEOUT" envDefault:"10s"`
	}

	Selection struct {
		MinDesired   int           `env:"SELECTION_MIN_DESIRED" envDefault:"5"`
		MaxDesired   int           `env:"SELECTION_MAX_DESIRED" envDefault:"10"`
		RadiusKm     float64       `env:"SELECTION_RADIUS_KM" envDefault:"10"`
		StageTimeout time.Duration `env:"SELECTION_STAGE_TIMEOUT" envDefault:"3s"`
		// SynthesizeFallback lets an empty store answer with a placeholder comparable
		SynthesizeFallback bool `env:"SELECTION_SYNTHESIZE_FALLBACK" envDefault:"true"`
	}

	// BatchProcessing configuration
	BatchProcessing struct {
		// Maximum number of properties to accumulate before processing
		MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"100"`

		// Number of batches the import queue holds before rejecting pushes
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"32"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`
	}

	Scraping struct {
		SitesFile string        `env:"SCRAPING_SITES_FILE" envDefault:"config/sites.yaml"`
		Interval  time.Duration `env:"SCRAPING_INTERVAL" envDefault:"24h"`
		UserAgent string        `env:"SCRAPING_USER_AGENT" envDefault:"Mozilla/5.0 (compatible; LandValueBot/1.0)"`
		Timeout   time.Duration `env:"SCRAPING_TIMEOUT" envDefault:"30s"`
		// Delay between requests to the same domain
		Delay time.Duration `env:"SCRAPING_DELAY" envDefault:"1s"`
	}

	Telegram struct {
		Enabled        bool    `env:"TELEGRAM_ENABLED" envDefault:"false"`
		BotToken       string  `env:"TELEGRAM_BOT_TOKEN"`
		ChatID         string  `env:"TELEGRAM_CHAT_ID"`
		APIBaseURL     string  `env:"TELEGRAM_API_BASE_URL" envDefault:"https://api.telegram.org"`
		UndervaluedPct float64 `env:"TELEGRAM_UNDERVALUED_PCT" envDefault:"15"`

		Filters models.AlertFilters
	}
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Backend {
	case BackendSQLite, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Database.Backend))
	}
	if c.Selection.MinDesired <= 0 {
		errs = append(errs, errors.New("SELECTION_MIN_DESIRED must be positive"))
	}
	if c.Selection.MaxDesired < c.Selection.MinDesired {
		errs = append(errs, errors.New("SELECTION_MAX_DESIRED must not be less than SELECTION_MIN_DESIRED"))
	}
	if c.Selection.RadiusKm <= 0 {
		errs = append(errs, errors.New("SELECTION_RADIUS_KM must be positive"))
	}
	if c.BatchProcessing.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_MAX_SIZE must be positive"))
	}
	if c.BatchProcessing.QueueSize <= 0 {
		errs = append(errs, errors.New("BATCH_QUEUE_SIZE must be positive"))
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required when TELEGRAM_ENABLED is set"))
	}
	if c.Telegram.UndervaluedPct <= 0 || c.Telegram.UndervaluedPct >= 100 {
		errs = append(errs, errors.New("TELEGRAM_UNDERVALUED_PCT must be between 0 and 100"))
	}

	return errors.Join(errs...)
}
