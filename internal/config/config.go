// Package config provides configuration loading and validation for the reaper.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxBatch is the hard ceiling on records touched by a single batch.
const MaxBatch = 1000

// Config holds all configuration for a reaper process.
type Config struct {
	Reaper        ReaperConfig        `yaml:"reaper"`
	Eligibility   EligibilityConfig   `yaml:"eligibility"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	API           APIConfig           `yaml:"api"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ReaperConfig struct {
	Interval        time.Duration `yaml:"interval" env:"REAPER_INTERVAL"`
	MaxBatch        int           `yaml:"maxBatch" env:"REAPER_MAX_BATCH"`
	DeletedBy       string        `yaml:"deletedBy" env:"REAPER_DELETED_BY"`
	IngestionWindow time.Duration `yaml:"ingestionWindow" env:"REAPER_INGESTION_WINDOW"`
}

type EligibilityConfig struct {
	ProtectedCollections []string `yaml:"protectedCollections" env:"REAPER_PROTECTED_COLLECTIONS"`
	PersistenceMarker    string   `yaml:"persistenceMarker" env:"REAPER_PERSISTENCE_MARKER"`
}

type ObjectStoreConfig struct {
	Endpoint     string `yaml:"endpoint" env:"REAPER_S3_ENDPOINT"`
	Region       string `yaml:"region" env:"REAPER_S3_REGION"`
	AccessKey    string `yaml:"accessKey" env:"REAPER_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"REAPER_S3_SECRET_KEY"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"REAPER_S3_USE_PATH_STYLE"`
	ImageBucket  string `yaml:"imageBucket" env:"REAPER_IMAGE_BUCKET"`
	AuditBucket  string `yaml:"auditBucket" env:"REAPER_AUDIT_BUCKET"`
	PauseBucket  string `yaml:"pauseBucket" env:"REAPER_PAUSE_BUCKET"`
	PauseKey     string `yaml:"pauseKey" env:"REAPER_PAUSE_KEY"`
}

type MetadataConfig struct {
	OxiaEndpoint string `yaml:"oxiaEndpoint" env:"REAPER_OXIA_ENDPOINT"`
	Namespace    string `yaml:"namespace" env:"REAPER_OXIA_NAMESPACE"`
}

type LedgerConfig struct {
	DSN      string `yaml:"dsn" env:"REAPER_LEDGER_DSN"`
	MaxConns int32  `yaml:"maxConns" env:"REAPER_LEDGER_MAX_CONNS"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr" env:"REAPER_API_LISTEN_ADDR"`
	JWTSecret  string `yaml:"jwtSecret" env:"REAPER_JWT_SECRET"`
	JWKSURL    string `yaml:"jwksUrl" env:"REAPER_JWKS_URL"`
	Issuer     string `yaml:"issuer" env:"REAPER_JWT_ISSUER"`
	DeleteRole string `yaml:"deleteRole" env:"REAPER_DELETE_ROLE"`
}

type EventsConfig struct {
	Brokers []string `yaml:"brokers" env:"REAPER_KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"REAPER_KAFKA_TOPIC"`
}

type ObservabilityConfig struct {
	HealthAddr       string        `yaml:"healthAddr" env:"REAPER_HEALTH_ADDR"`
	ReadinessTimeout time.Duration `yaml:"readinessTimeout" env:"REAPER_READINESS_TIMEOUT"`
	LogLevel         string        `yaml:"logLevel" env:"REAPER_LOG_LEVEL"`
	LogFormat        string        `yaml:"logFormat" env:"REAPER_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Reaper: ReaperConfig{
			Interval:        15 * time.Minute,
			MaxBatch:        MaxBatch,
			DeletedBy:       "reaper",
			IngestionWindow: 7 * 24 * time.Hour,
		},
		ObjectStore: ObjectStoreConfig{
			Region:   "us-east-1",
			PauseKey: "reaper/PAUSED",
		},
		Metadata: MetadataConfig{
			OxiaEndpoint: "localhost:6648",
			Namespace:    "reaper",
		},
		Ledger: LedgerConfig{
			MaxConns: 10,
		},
		API: APIConfig{
			ListenAddr: ":8080",
			DeleteRole: "asset:delete",
		},
		Events: EventsConfig{
			Topic: "asset-deletions",
		},
		Observability: ObservabilityConfig{
			HealthAddr:       ":9090",
			ReadinessTimeout: 5 * time.Second,
			LogLevel:         "info",
			LogFormat:        "json",
		},
	}
}

// Load reads the YAML file at path on top of Default, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the reaper cannot run with. A missing audit
// bucket is not rejected here; it surfaces as ErrAuditNotConfigured on the
// first batch so the rest of the process can still start.
func (c *Config) Validate() error {
	var errs []error
	if c.Reaper.Interval <= 0 {
		errs = append(errs, errors.New("reaper.interval must be positive"))
	}
	if c.Reaper.Interval > c.Reaper.IngestionWindow {
		errs = append(errs, errors.New("reaper.interval must not exceed reaper.ingestionWindow"))
	}
	if c.Reaper.MaxBatch <= 0 || c.Reaper.MaxBatch > MaxBatch {
		errs = append(errs, fmt.Errorf("reaper.maxBatch must be in [1, %d]", MaxBatch))
	}
	if c.Reaper.DeletedBy == "" {
		errs = append(errs, errors.New("reaper.deletedBy is required"))
	}
	if c.ObjectStore.PauseKey == "" {
		errs = append(errs, errors.New("objectStore.pauseKey is required"))
	}
	return errors.Join(errs...)
}

var durationType = reflect.TypeOf(time.Duration(0))

func applyEnv(v reflect.Value, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, lookup); err != nil {
				return err
			}
			continue
		}
		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Slice:
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
