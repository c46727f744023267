package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Storage       StorageConfig
	KYC           KYCConfig
	Presence      PresenceConfig
	RateLimit     RateLimitConfig
	Security      SecurityConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL         string
	Password    string
	DB          int
	PoolSize    int
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers       []string
	ChangeTopic   string
	ConsumerGroup string
	TLSEnabled    bool
}

type ElasticsearchConfig struct {
	URL               string
	Username          string
	Password          string
	VerificationIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	CAFile   string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string

	// LocalMasterKey (base64, 32 bytes) wraps data keys when KMS is off.
	LocalMasterKey string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int

	// Peppers is "version:secret" pairs separated by commas; the highest
	// version hashes new credentials.
	Peppers string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// StorageConfig selects the object store holding uploaded documents.
type StorageConfig struct {
	Type     string // "s3" or "fs"
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
	DataDir  string
}

type KYCConfig struct {
	UploadMaxTries       uint
	UploadMaxElapsed     time.Duration
	UploadInitialBackoff time.Duration
	ReconcilerEnabled    bool
}

type PresenceConfig struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
}

type RateLimitConfig struct {
	SubmissionsPerHour int
	RequestsPerSecond  float64
	Burst              int
}

type SecurityConfig struct {
	ServiceKey string

	// UserTokenSecret signs the bearer tokens that scope per-user routes.
	UserTokenSecret string
	UserTokenTTL    time.Duration
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads the environment (and an optional .env file) into a Config
// and remembers it for Get.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", ""),
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "certs"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxBodyBytes: int64(getEnvInt("SERVER_MAX_BODY_MB", 48)) << 20,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			PoolSize:    getEnvInt("REDIS_POOL_SIZE", 20),
			TLSCAFile:   getEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt"),
			TLSCertFile: getEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt"),
			TLSKeyFile:  getEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "kyc"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			ChangeTopic:   getEnv("KAFKA_CHANGE_TOPIC", "kyc.changes"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "kyc-reconciler"),
			TLSEnabled:    getEnvBool("KAFKA_TLS_ENABLED", false),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:               getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:          getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:          getEnv("ELASTICSEARCH_PASSWORD", ""),
			VerificationIndex: getEnv("ELASTICSEARCH_VERIFICATION_INDEX", "kyc-verifications"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "kyc"),
			CAFile:   getEnv("CLICKHOUSE_CA_FILE", ""),
		},
		KMS: KMSConfig{
			Enabled:        getEnvBool("KMS_ENABLED", false),
			KeyID:          getEnv("KMS_KEY_ID", ""),
			Region:         getEnv("KMS_REGION", getEnv("AWS_REGION", "us-east-1")),
			LocalMasterKey: getEnv("KMS_LOCAL_MASTER_KEY", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_KB", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Peppers:           getEnv("PASSWORD_PEPPERS", ""),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  getEnvInt("USER_BUCKETS", 256),
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		Storage: StorageConfig{
			Type:     getEnv("DOCUMENT_STORAGE_TYPE", "fs"),
			Bucket:   getEnv("DOCUMENT_S3_BUCKET", "kyc-documents"),
			Region:   getEnv("DOCUMENT_S3_REGION", getEnv("AWS_REGION", "us-east-1")),
			Endpoint: getEnv("DOCUMENT_S3_ENDPOINT", ""),
			Prefix:   getEnv("DOCUMENT_S3_PREFIX", ""),
			DataDir:  getEnv("DATA_DIR", "data"),
		},
		KYC: KYCConfig{
			UploadMaxTries:       uint(getEnvInt("KYC_UPLOAD_MAX_TRIES", 3)),
			UploadMaxElapsed:     getEnvDuration("KYC_UPLOAD_MAX_ELAPSED", 30*time.Second),
			UploadInitialBackoff: getEnvDuration("KYC_UPLOAD_INITIAL_BACKOFF", 200*time.Millisecond),
			ReconcilerEnabled:    getEnvBool("KYC_RECONCILER_ENABLED", true),
		},
		Presence: PresenceConfig{
			HeartbeatInterval: getEnvDuration("PRESENCE_HEARTBEAT_INTERVAL", 30*time.Second),
			StaleAfter:        getEnvDuration("PRESENCE_STALE_AFTER", 90*time.Second),
		},
		RateLimit: RateLimitConfig{
			SubmissionsPerHour: getEnvInt("KYC_SUBMISSIONS_PER_HOUR", 5),
			RequestsPerSecond:  getEnvFloat("HTTP_REQUESTS_PER_SECOND", 20),
			Burst:              getEnvInt("HTTP_BURST", 40),
		},
		Security: SecurityConfig{
			ServiceKey:      getEnv("SERVICE_ROLE_KEY", ""),
			UserTokenSecret: getEnv("USER_TOKEN_SECRET", ""),
			UserTokenTTL:    getEnvDuration("USER_TOKEN_TTL", time.Hour),
		},
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the last loaded configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == ""
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
