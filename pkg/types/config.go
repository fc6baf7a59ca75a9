package types

import (
	"time"
)

// State backend constants
const (
	StateBackendFile     = "file"     // JSON file, atomic rename on write
	StateBackendBolt     = "bolt"     // bbolt database
	StateBackendRedis    = "redis"    // single Redis hash
	StateBackendPostgres = "postgres" // sync_state table in a dedicated database
	StateBackendS3       = "s3"       // one object per key
)

// AppConfig is the root configuration for the indexsync daemon
type AppConfig struct {
	DebugMode  bool `key:"debugMode" json:"debug_mode" yaml:"debugMode"`
	PrettyLogs bool `key:"prettyLogs" json:"pretty_logs" yaml:"prettyLogs"`

	Database      DatabaseConfig      `key:"database" json:"database" yaml:"database"`
	Elasticsearch ElasticsearchConfig `key:"elasticsearch" json:"elasticsearch" yaml:"elasticsearch"`
	State         StateConfig         `key:"state" json:"state" yaml:"state"`
	Sync          SyncConfig          `key:"sync" json:"sync" yaml:"sync"`
	Retry         RetryConfig         `key:"retry" json:"retry" yaml:"retry"`
}

// ----------------------------------------------------------------------------
// Database Configuration
// ----------------------------------------------------------------------------

type DatabaseConfig struct {
	Redis    RedisConfig    `key:"redis" json:"redis" yaml:"redis"`
	Postgres PostgresConfig `key:"postgres" json:"postgres" yaml:"postgres"`
}

type RedisMode string

const (
	RedisModeSingle  RedisMode = "single"
	RedisModeCluster RedisMode = "cluster"
)

type RedisConfig struct {
	Mode               RedisMode     `key:"mode" json:"mode" yaml:"mode"`
	Addrs              []string      `key:"addrs" json:"addrs" yaml:"addrs"`
	Username           string        `key:"username" json:"username" yaml:"username"`
	Password           string        `key:"password" json:"password" yaml:"password"`
	ClientName         string        `key:"clientName" json:"client_name" yaml:"clientName"`
	EnableTLS          bool          `key:"enableTLS" json:"enable_tls" yaml:"enableTLS"`
	InsecureSkipVerify bool          `key:"insecureSkipVerify" json:"insecure_skip_verify" yaml:"insecureSkipVerify"`
	PoolSize           int           `key:"poolSize" json:"pool_size" yaml:"poolSize"`
	MinIdleConns       int           `key:"minIdleConns" json:"min_idle_conns" yaml:"minIdleConns"`
	MaxIdleConns       int           `key:"maxIdleConns" json:"max_idle_conns" yaml:"maxIdleConns"`
	ConnMaxIdleTime    time.Duration `key:"connMaxIdleTime" json:"conn_max_idle_time" yaml:"connMaxIdleTime"`
	ConnMaxLifetime    time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime" yaml:"connMaxLifetime"`
	DialTimeout        time.Duration `key:"dialTimeout" json:"dial_timeout" yaml:"dialTimeout"`
	ReadTimeout        time.Duration `key:"readTimeout" json:"read_timeout" yaml:"readTimeout"`
	WriteTimeout       time.Duration `key:"writeTimeout" json:"write_timeout" yaml:"writeTimeout"`
	MaxRedirects       int           `key:"maxRedirects" json:"max_redirects" yaml:"maxRedirects"`
	MaxRetries         int           `key:"maxRetries" json:"max_retries" yaml:"maxRetries"`
	RouteByLatency     bool          `key:"routeByLatency" json:"route_by_latency" yaml:"routeByLatency"`
}

// IsConfigured returns true if at least one Redis address is set
func (c RedisConfig) IsConfigured() bool {
	return len(c.Addrs) > 0 && c.Addrs[0] != ""
}

type PostgresConfig struct {
	Host            string        `key:"host" json:"host" yaml:"host"`
	Port            int           `key:"port" json:"port" yaml:"port"`
	User            string        `key:"user" json:"user" yaml:"user"`
	Password        string        `key:"password" json:"password" yaml:"password"`
	Database        string        `key:"database" json:"database" yaml:"database"`
	SSLMode         string        `key:"sslMode" json:"ssl_mode" yaml:"sslMode"`
	MaxOpenConns    int           `key:"maxOpenConns" json:"max_open_conns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `key:"maxIdleConns" json:"max_idle_conns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime" yaml:"connMaxLifetime"`
}

// ----------------------------------------------------------------------------
// Elasticsearch Configuration
// ----------------------------------------------------------------------------

type ElasticsearchConfig struct {
	// Addresses e.g., ["http://localhost:9200"]
	Addresses []string      `key:"addresses" json:"addresses" yaml:"addresses"`
	Username  string        `key:"username" json:"username" yaml:"username"`
	Password  string        `key:"password" json:"password" yaml:"password"`
	Timeout   time.Duration `key:"timeout" json:"timeout" yaml:"timeout"`
	// Refresh is passed to bulk requests: "", "true", "false" or "wait_for"
	Refresh string `key:"refresh" json:"refresh" yaml:"refresh"`
}

// ----------------------------------------------------------------------------
// State (watermark) Configuration
// ----------------------------------------------------------------------------

type StateConfig struct {
	Backend  string           `key:"backend" json:"backend" yaml:"backend"`
	File     FileStateConfig  `key:"file" json:"file" yaml:"file"`
	Bolt     FileStateConfig  `key:"bolt" json:"bolt" yaml:"bolt"`
	Redis    RedisStateConfig `key:"redis" json:"redis" yaml:"redis"`
	Postgres PostgresConfig   `key:"postgres" json:"postgres" yaml:"postgres"`
	S3       S3StateConfig    `key:"s3" json:"s3" yaml:"s3"`
}

type FileStateConfig struct {
	Path string `key:"path" json:"path" yaml:"path"`
}

type RedisStateConfig struct {
	HashKey string `key:"hashKey" json:"hash_key" yaml:"hashKey"`
}

type S3StateConfig struct {
	Bucket         string `key:"bucket" json:"bucket" yaml:"bucket"`
	Region         string `key:"region" json:"region" yaml:"region"`
	Endpoint       string `key:"endpoint" json:"endpoint" yaml:"endpoint"`
	AccessKey      string `key:"accessKey" json:"access_key" yaml:"accessKey"`
	SecretKey      string `key:"secretKey" json:"secret_key" yaml:"secretKey"`
	ForcePathStyle bool   `key:"forcePathStyle" json:"force_path_style" yaml:"forcePathStyle"`
	Prefix         string `key:"prefix" json:"prefix" yaml:"prefix"`
}

// ----------------------------------------------------------------------------
// Sync Configuration
// ----------------------------------------------------------------------------

type SyncConfig struct {
	// Interval is the sleep between the end of one cycle and the start of the next
	Interval time.Duration `key:"interval" json:"interval" yaml:"interval"`

	// InitialDelay is the delay before the first cycle
	InitialDelay time.Duration `key:"initialDelay" json:"initial_delay" yaml:"initialDelay"`

	// BatchSize is the number of rows fetched from the cursor per batch
	BatchSize int `key:"batchSize" json:"batch_size" yaml:"batchSize"`

	// Streams lists the entity streams to synchronize, in order
	Streams []string `key:"streams" json:"streams" yaml:"streams"`

	Lock LockConfig `key:"lock" json:"lock" yaml:"lock"`
}

// LockConfig configures the optional per-index pass lock held in Redis
type LockConfig struct {
	Enabled bool          `key:"enabled" json:"enabled" yaml:"enabled"`
	TTL     time.Duration `key:"ttl" json:"ttl" yaml:"ttl"`
	Retries int           `key:"retries" json:"retries" yaml:"retries"`
}

// RetryConfig parameterizes exponential backoff for bulk loads
type RetryConfig struct {
	InitialDelay time.Duration `key:"initialDelay" json:"initial_delay" yaml:"initialDelay"`
	Multiplier   float64       `key:"multiplier" json:"multiplier" yaml:"multiplier"`
	MaxDelay     time.Duration `key:"maxDelay" json:"max_delay" yaml:"maxDelay"`
	MaxAttempts  int           `key:"maxAttempts" json:"max_attempts" yaml:"maxAttempts"`
}

const redacted = "[REDACTED]"

// Redact returns a copy of the config with passwords and keys replaced
func (c AppConfig) Redact() AppConfig {
	out := c
	if out.Database.Postgres.Password != "" {
		out.Database.Postgres.Password = redacted
	}
	if out.Database.Redis.Password != "" {
		out.Database.Redis.Password = redacted
	}
	if out.Elasticsearch.Password != "" {
		out.Elasticsearch.Password = redacted
	}
	if out.State.Postgres.Password != "" {
		out.State.Postgres.Password = redacted
	}
	if out.State.S3.SecretKey != "" {
		out.State.S3.SecretKey = redacted
	}
	return out
}
