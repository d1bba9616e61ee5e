package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Process names double as directory names under BaseDir and as the
// notification routing key.
const (
	ProcessLoad   = "recon_report_load"
	ProcessUpdate = "recon_report_update"
)

const (
	defaultConfigPath    = "config/recon.yaml"
	defaultBaseDir       = "automation"
	defaultReportDir     = "data/reports"
	defaultDropOffDir    = "data/charts/charts_drop_off"
	defaultPaymentDir    = "data/charts/payment_reconciliation"
	defaultDriver        = "sqlite"
	defaultDSN           = "recon.db"
	defaultHeaderTable   = "report_recon_header"
	defaultDetailTable   = "report_recon_detail"
	defaultBatchSize     = 1000
	maxBatchSize         = 1000
	defaultDBTimeoutSec  = 60
	defaultNotifyTimeout = 10
	defaultSettleMS      = 500
	defaultLoadPattern   = `^[A-Za-z]+_daily_report_\d{8}\.txt$`
	defaultUpdatePattern = `recon_report_update.trigger`
)

var defaultProcedures = []string{
	"common.sp_update_chart_lookup_indicator",
	"common.sp_update_exclusion_indicator",
	"common.sp_update_header_tally_counts",
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config is built once at process start and passed to every component.
type Config struct {
	Environment     string
	LogLevel        string
	LogFormat       string
	LogFile         string
	HTTPPort        string
	StrictConfig    bool
	BaseDir         string
	ReportDir       string
	DropOffDir      string
	PaymentReconDir string
	Database        DatabaseConfig
	Vendors         map[string]bool
	Load            ProcessConfig
	Update          ProcessConfig
	Notify          NotifyConfig
	Procedures      []string
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver      string `yaml:"driver" json:"driver"`
	DSN         string `yaml:"dsn" json:"dsn"`
	HeaderTable string `yaml:"header_table" json:"header_table"`
	DetailTable string `yaml:"detail_table" json:"detail_table"`
	BatchSize   int    `yaml:"batch_size" json:"batch_size"`
	TimeoutSec  int    `yaml:"timeout_sec" json:"timeout_sec"`
	AtomicLoad  *bool  `yaml:"atomic_load" json:"atomic_load"`
}

// Timeout bounds a single store operation.
func (d DatabaseConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec) * time.Second
}

// Atomic reports whether header and detail inserts share one transaction.
func (d DatabaseConfig) Atomic() bool {
	return d.AtomicLoad == nil || *d.AtomicLoad
}

// ProcessConfig describes one watch process.
type ProcessConfig struct {
	Name       string `yaml:"name" json:"name"`
	Pattern    string `yaml:"pattern" json:"pattern"`
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`
	SettleMS   *int   `yaml:"settle_ms" json:"settle_ms"`
}

// Settle is how long a new file must keep a stable size before dispatch.
func (p ProcessConfig) Settle() time.Duration {
	if p.SettleMS == nil {
		return defaultSettleMS * time.Millisecond
	}
	return time.Duration(*p.SettleMS) * time.Millisecond
}

// NotifyConfig holds settings shared by all notification sinks.
type NotifyConfig struct {
	TimeoutSec     int    `yaml:"timeout_sec" json:"timeout_sec"`
	TelegramToken  string `yaml:"telegram_token" json:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id" json:"telegram_chat_id"`
}

func (n NotifyConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSec) * time.Second
}

// Areas are the four lifecycle locations of a process.
type Areas struct {
	Staging      string
	Input        string
	InputArchive string
	Log          string
}

// All lists the areas in creation order.
func (a Areas) All() []string {
	return []string{a.Staging, a.Input, a.InputArchive, a.Log}
}

type fileConfig struct {
	Environment     string          `yaml:"environment" json:"environment"`
	LogLevel        string          `yaml:"log_level" json:"log_level"`
	LogFormat       string          `yaml:"log_format" json:"log_format"`
	LogFile         string          `yaml:"log_file" json:"log_file"`
	HTTPPort        string          `yaml:"http_port" json:"http_port"`
	BaseDir         string          `yaml:"base_dir" json:"base_dir"`
	ReportDir       string          `yaml:"report_dir" json:"report_dir"`
	DropOffDir      string          `yaml:"dropoff_dir" json:"dropoff_dir"`
	PaymentReconDir string          `yaml:"payment_recon_dir" json:"payment_recon_dir"`
	Database        DatabaseConfig  `yaml:"database" json:"database"`
	Vendors         map[string]bool `yaml:"vendors" json:"vendors"`
	Load            ProcessConfig   `yaml:"load" json:"load"`
	Update          ProcessConfig   `yaml:"update" json:"update"`
	Notify          NotifyConfig    `yaml:"notify" json:"notify"`
	Procedures      *[]string       `yaml:"procedures" json:"procedures"`
}

// Load reads .env, the optional YAML/JSON file and environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		StrictConfig: parseBoolEnv("STRICT_CONFIG"),
	}

	path := getEnv("RECON_CONFIG_PATH", defaultConfigPath)
	fc, err := loadFileConfig(path)
	if err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("config load failed (%s): %v (using defaults)", path, err)
		}
	}

	cfg.Environment = firstNonEmpty(os.Getenv("ENVIRONMENT"), fc.Environment, "local")
	cfg.LogLevel = strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), fc.LogLevel, "info"))
	cfg.LogFormat = strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), fc.LogFormat, "console"))
	cfg.LogFile = firstNonEmpty(os.Getenv("LOG_FILE"), fc.LogFile)
	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fc.HTTPPort)
	if cfg.HTTPPort != "" && !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	cfg.BaseDir = firstNonEmpty(os.Getenv("RECON_BASE_DIR"), fc.BaseDir, defaultBaseDir)
	cfg.ReportDir = firstNonEmpty(os.Getenv("RECON_REPORT_DIR"), fc.ReportDir, defaultReportDir)
	cfg.DropOffDir = firstNonEmpty(os.Getenv("RECON_DROPOFF_DIR"), fc.DropOffDir, defaultDropOffDir)
	cfg.PaymentReconDir = firstNonEmpty(os.Getenv("RECON_PAYMENT_DIR"), fc.PaymentReconDir, defaultPaymentDir)

	cfg.Database = applyDatabaseOverrides(fc.Database)
	cfg.Vendors = fc.Vendors
	if len(cfg.Vendors) == 0 {
		cfg.Vendors = map[string]bool{"Gryff": true, "Slyth": false, "Huffle": true, "Raven": true}
	}
	if v := strings.TrimSpace(os.Getenv("RECON_ACTIVE_VENDORS")); v != "" {
		cfg.Vendors = map[string]bool{}
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Vendors[name] = true
			}
		}
	}

	cfg.Load = applyProcessOverrides(fc.Load, ProcessLoad, defaultLoadPattern, "SLACK_LOAD_WEBHOOK")
	cfg.Update = applyProcessOverrides(fc.Update, ProcessUpdate, defaultUpdatePattern, "SLACK_UPDATE_WEBHOOK")

	cfg.Notify = fc.Notify
	if cfg.Notify.TimeoutSec <= 0 {
		cfg.Notify.TimeoutSec = defaultNotifyTimeout
	}
	cfg.Notify.TelegramToken = firstNonEmpty(os.Getenv("TELEGRAM_BOT_TOKEN"), cfg.Notify.TelegramToken)
	if v, ok, err := parseInt64Env("TELEGRAM_CHAT_ID"); err != nil {
		log.Printf("invalid TELEGRAM_CHAT_ID: %v (ignored)", err)
	} else if ok {
		cfg.Notify.TelegramChatID = v
	}

	switch {
	case fc.Procedures != nil:
		cfg.Procedures = *fc.Procedures
	case cfg.Database.Driver == "sqlite":
		cfg.Procedures = nil
	default:
		cfg.Procedures = append([]string(nil), defaultProcedures...)
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}
	return cfg, nil
}

// Process returns the settings of the named process.
func (c Config) Process(name string) (ProcessConfig, error) {
	switch name {
	case ProcessLoad, c.Load.Name:
		return c.Load, nil
	case ProcessUpdate, c.Update.Name:
		return c.Update, nil
	}
	return ProcessConfig{}, fmt.Errorf("unknown process %q", name)
}

// Areas returns the lifecycle locations of a process.
func (c Config) Areas(process string) Areas {
	root := filepath.Join(c.BaseDir, process)
	return Areas{
		Staging:      filepath.Join(root, "staging"),
		Input:        filepath.Join(root, "input"),
		InputArchive: filepath.Join(root, "input_archive"),
		Log:          filepath.Join(root, "log"),
	}
}

// ActiveVendors returns enabled vendor codes in sorted order.
func (c Config) ActiveVendors() []string {
	var out []string
	for name, on := range c.Vendors {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	return cfg, err
}

func applyDatabaseOverrides(db DatabaseConfig) DatabaseConfig {
	db.Driver = strings.ToLower(firstNonEmpty(os.Getenv("RECON_DB_DRIVER"), db.Driver, defaultDriver))
	db.DSN = firstNonEmpty(os.Getenv("RECON_DB_DSN"), db.DSN, defaultDSN)
	db.HeaderTable = firstNonEmpty(os.Getenv("RECON_HEADER_TABLE"), db.HeaderTable, defaultHeaderTable)
	db.DetailTable = firstNonEmpty(os.Getenv("RECON_DETAIL_TABLE"), db.DetailTable, defaultDetailTable)

	if v, ok, err := parseIntEnv("RECON_DB_BATCH_SIZE"); err != nil {
		log.Printf("invalid RECON_DB_BATCH_SIZE: %v (using default)", err)
	} else if ok {
		db.BatchSize = v
	}
	if db.BatchSize <= 0 {
		db.BatchSize = defaultBatchSize
	}
	if db.BatchSize > maxBatchSize {
		log.Printf("batch size capped at %d (was %d)", maxBatchSize, db.BatchSize)
		db.BatchSize = maxBatchSize
	}

	if v, ok, err := parseIntEnv("RECON_DB_TIMEOUT_SEC"); err != nil {
		log.Printf("invalid RECON_DB_TIMEOUT_SEC: %v (using default)", err)
	} else if ok {
		db.TimeoutSec = v
	}
	if db.TimeoutSec <= 0 {
		db.TimeoutSec = defaultDBTimeoutSec
	}

	if v := strings.TrimSpace(os.Getenv("RECON_DB_ATOMIC_LOAD")); v != "" {
		b := parseBoolEnv("RECON_DB_ATOMIC_LOAD")
		db.AtomicLoad = &b
	}
	return db
}

func applyProcessOverrides(p ProcessConfig, name, pattern, webhookEnv string) ProcessConfig {
	p.Name = firstNonEmpty(p.Name, name)
	p.Pattern = firstNonEmpty(p.Pattern, pattern)
	p.WebhookURL = firstNonEmpty(os.Getenv(webhookEnv), p.WebhookURL)
	return p
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return errors.New("base_dir is required")
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	for _, t := range []string{cfg.Database.HeaderTable, cfg.Database.DetailTable} {
		if !identPattern.MatchString(t) {
			return fmt.Errorf("invalid table name %q", t)
		}
	}
	for _, p := range cfg.Procedures {
		if !identPattern.MatchString(p) {
			return fmt.Errorf("invalid procedure name %q", p)
		}
	}
	for _, p := range []ProcessConfig{cfg.Load, cfg.Update} {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("process %s pattern: %w", p.Name, err)
		}
		if p.SettleMS != nil && *p.SettleMS < 0 {
			return fmt.Errorf("process %s settle_ms must not be negative", p.Name)
		}
	}
	if len(cfg.ActiveVendors()) == 0 {
		return errors.New("at least one active vendor is required")
	}
	return nil
}

// ValidIdentifier reports whether name is safe to splice into SQL.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func parseInt64Env(key string) (int64, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	return val, true, err
}

// Now returns the current UTC time truncated to whole seconds.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
