package config

import (
	"time"

	"github.com/go-settings-admin/go-settings-admin/internal/logger"
)

// Supported store backends.
const (
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendS3       = "s3"
	BackendRemote   = "remote"
	BackendMemory   = "memory"
)

// Config overall data structure.
type Config struct {
	DevMode   bool // enable dev mode for development
	Title     string
	Log       logger.Log
	Store     Store
	Cache     Cache
	Webserver Webserver
}

// Webserver implement webserver settings.
type Webserver struct {
	Domain       string // domain name for the webserver
	Port         int    // listening port for the webserver
	ShutDownTime int    // wait time for shutdown
	URL          string // base url for the webserver
}

// Store selects and configures the settings backend.
type Store struct {
	Backend string // sqlite | mysql | postgres | redis | s3 | remote | memory
	DB      DB
	Redis   Redis
	S3      S3
	Remote  Remote
}

// DB holds the relational database configuration settings.
type DB struct {
	Extras   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Path     string // sqlite database file
}

// Redis holds the redis backend settings.
type Redis struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// S3 holds the object storage backend settings.
type S3 struct {
	Bucket   string
	Key      string // object key of the settings document
	Region   string
	Endpoint string // optional custom endpoint (minio etc.)
}

// Remote holds the remote HTTP backend settings.
type Remote struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Cache configures the local settings cache.
type Cache struct {
	RefreshIntervalSeconds int
}

// RefreshInterval returns the cache refresh interval as a duration.
func (c Cache) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}
