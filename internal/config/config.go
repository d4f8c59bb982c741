package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Supported DATABASE_DRIVER values
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

// DefaultFeeds are the NYCT subway GTFS-RT endpoints
var DefaultFeeds = []Feed{
	{Name: "ace", URL: "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-ace"},
	{Name: "bdfm", URL: "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-bdfm"},
	{Name: "g", URL: "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-g"},
	{Name: "jz", URL: "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-jz"},
	{Name: "nqrw", URL: "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-nqrw"},
	{Name: "l", URL: "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-l"},
	{Name: "1234567", URL: "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs"},
	{Name: "si", URL: "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-si"},
}

// Feed is one GTFS-RT endpoint polled on every tick
type Feed struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// Database holds store connection settings
type Database struct {
	Driver     string
	URL        string // DATABASE_URL, overrides the discrete fields
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SQLitePath string
}

// Config holds all configuration for the poller service
type Config struct {
	Database Database

	// Real-time polling
	APIKey       string
	Feeds        []Feed
	PollInterval time.Duration
	FetchTimeout time.Duration

	// Static dataset
	GTFSDir string

	// Service
	HTTPAddr  string
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	driver := strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres))

	cfg := &Config{
		Database: Database{
			Driver:     driver,
			URL:        os.Getenv("DATABASE_URL"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", defaultPort(driver)),
			User:       getEnv("DB_USER", defaultUser(driver)),
			Password:   os.Getenv("DB_PASSWORD"),
			Name:       getEnv("DB_NAME", "transit"),
			SQLitePath: getEnv("SQLITE_DATABASE", "./data/transit.db"),
		},

		APIKey:       os.Getenv("API_KEY"),
		PollInterval: time.Duration(getEnvInt("POLL_INTERVAL", 30)) * time.Second,
		FetchTimeout: time.Duration(getEnvInt("FETCH_TIMEOUT", 15)) * time.Second,

		GTFSDir: getEnv("GTFS_DIR", "./data/gtfs"),

		HTTPAddr:  lookupEnv("HTTP_ADDR", ":8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	feeds, err := loadFeeds()
	if err != nil {
		return nil, err
	}
	cfg.Feeds = feeds

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT must be positive")
	}
	if len(c.Feeds) == 0 {
		return errors.New("at least one feed URL is required")
	}
	return nil
}

// DSN returns the driver-specific connection string
func (d Database) DSN() string {
	switch d.Driver {
	case DriverSQLite:
		// WAL with a busy timeout, same as the single-writer deployments
		return d.SQLitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DriverMySQL:
		if d.URL != "" {
			return d.URL
		}
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, d.Port)
		cfg.DBName = d.Name
		cfg.ParseTime = true
		return cfg.FormatDSN()
	default:
		if d.URL != "" {
			return d.URL
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   net.JoinHostPort(d.Host, d.Port),
			Path:   "/" + d.Name,
		}
		return u.String()
	}
}

func defaultUser(driver string) string {
	if driver == DriverMySQL {
		return "root"
	}
	return "postgres"
}

func defaultPort(driver string) string {
	if driver == DriverMySQL {
		return "3306"
	}
	return "5432"
}

// loadFeeds resolves the endpoint list: FEEDS_FILE, then FEED_URLS, then the defaults.
func loadFeeds() ([]Feed, error) {
	if path := os.Getenv("FEEDS_FILE"); path != "" {
		return LoadFeedsFile(path)
	}
	if raw := os.Getenv("FEED_URLS"); raw != "" {
		return parseFeedURLs(raw)
	}
	feeds := make([]Feed, len(DefaultFeeds))
	copy(feeds, DefaultFeeds)
	return feeds, nil
}

func parseFeedURLs(raw string) ([]Feed, error) {
	var feeds []Feed
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := url.Parse(part)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid FEED_URLS entry %d: %q", i, part)
		}
		feeds = append(feeds, Feed{Name: fmt.Sprintf("feed-%d", len(feeds)+1), URL: part})
	}
	return feeds, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv is getEnv for settings where an explicit empty value means "off"
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
