package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"MailCourier/internal/models"
)

type Config struct {
	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"noreply@mailcourier.local"`

	// ----------------------------
	// Worker
	// ----------------------------
	RateLimit      int           `envconfig:"RATE_LIMIT" default:"10"`
	RetryAttempts  int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	QueuePopWait   time.Duration `envconfig:"QUEUE_POP_WAIT" default:"1s"`
	RetryOnFailure bool          `envconfig:"RETRY_ON_FAILURE" default:"false"`
	RetryInterval  int           `envconfig:"RETRY_INTERVAL_MINUTES" default:"30"`

	// ----------------------------
	// Attachments
	// ----------------------------
	FileCountThreshold int      `envconfig:"ATTACHMENT_FILE_THRESHOLD" default:"5"`
	AllowedExtensions  []string `envconfig:"ATTACHMENT_EXTENSIONS" default:"all"`
	MaxSizeMB          int      `envconfig:"ATTACHMENT_MAX_SIZE_MB" default:"25"`
	SafeSizeMB         int      `envconfig:"ATTACHMENT_SAFE_SIZE_MB" default:"20"`
	CloudThresholdMB   int      `envconfig:"ATTACHMENT_CLOUD_THRESHOLD_MB" default:"20"`
	EstimateRatio      float64  `envconfig:"ATTACHMENT_ESTIMATE_RATIO" default:"0.9"`
	ArchiveDir         string   `envconfig:"ARCHIVE_DIR" default:"archives"`
	KeepArchives       bool     `envconfig:"KEEP_ARCHIVES" default:"false"`

	// ----------------------------
	// Cloud uploader
	// ----------------------------
	CloudBaseURL      string `envconfig:"CLOUD_BASE_URL" default:""`
	CloudTokenURL     string `envconfig:"CLOUD_TOKEN_URL" default:""`
	CloudClientID     string `envconfig:"CLOUD_CLIENT_ID" default:""`
	CloudClientSecret string `envconfig:"CLOUD_CLIENT_SECRET" default:""`
	CloudScopes       string `envconfig:"CLOUD_SCOPES" default:""`
	SharingOption     string `envconfig:"CLOUD_SHARING_OPTION" default:"anyone"`

	// ----------------------------
	// Templates
	// ----------------------------
	TemplateDir         string `envconfig:"TEMPLATE_DIR" default:"templates"`
	TemplateID          string `envconfig:"TEMPLATE_ID" default:""`
	DefaultTemplatePath string `envconfig:"DEFAULT_TEMPLATE_PATH" default:"templates/default.html"`

	// ----------------------------
	// Scheduler
	// ----------------------------
	SchedulePollInterval time.Duration `envconfig:"SCHEDULE_POLL_INTERVAL" default:"60s"`

	// ----------------------------
	// Transaction log
	// ----------------------------
	TxLogFile    string `envconfig:"TXLOG_FILE" default:"transactions.jsonl"`
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"mail-transactions"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	// StoreDriver selects "postgres" or "memory".
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres store")
	}
	return &cfg, nil
}

// DefaultSettings builds the automation settings used until a persisted
// configuration record overrides them.
func (c *Config) DefaultSettings() models.Settings {
	return models.Settings{
		RetryOnFailure:       c.RetryOnFailure,
		RetryIntervalMinutes: c.RetryInterval,
		TemplateID:           c.TemplateID,
		SharingOption:        c.SharingOption,
		Attachment: models.AttachmentSettings{
			FileCountThreshold: c.FileCountThreshold,
			AllowedExtensions:  c.AllowedExtensions,
			MaxSizeMB:          c.MaxSizeMB,
			SafeSizeMB:         c.SafeSizeMB,
			CloudThresholdMB:   c.CloudThresholdMB,
		},
	}
}

func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) CloudScopeList() []string {
	return strings.Fields(strings.ReplaceAll(c.CloudScopes, ",", " "))
}

func (c *Config) CloudEnabled() bool {
	return c.CloudBaseURL != "" && c.CloudTokenURL != "" && c.CloudClientID != ""
}
