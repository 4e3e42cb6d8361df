package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
	Engine      EngineConfig      `mapstructure:"engine"`
	IndexSource IndexSourceConfig `mapstructure:"index_source"`
	Tax         TaxConfig         `mapstructure:"tax"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres/sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"` // sqlite 文件
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN 返回 postgres 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type JWTConfig struct {
	Secret            string        `mapstructure:"secret"`
	AccessTokenExpire time.Duration `mapstructure:"access_token_expire"`
	Issuer            string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// EngineConfig 计量支付引擎配置
type EngineConfig struct {
	LockBackend      string        `mapstructure:"lock_backend"` // postgres/redis/memory
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	LockPollInterval time.Duration `mapstructure:"lock_poll_interval"`
	WorkflowFile     string        `mapstructure:"workflow_file"` // 为空时使用内置流程
	// DefaultPolicy 担保服务未提供合同条款时的默认值
	DefaultPolicy PolicyConfig `mapstructure:"default_policy"`
}

type PolicyConfig struct {
	RetentionPercentage       string `mapstructure:"retention_percentage"`
	MaxRetentionMode          string `mapstructure:"max_retention_mode"`
	MaxRetentionValue         string `mapstructure:"max_retention_value"`
	AdvanceRecoveryPercentage string `mapstructure:"advance_recovery_percentage"`
	MaterialsClaimPercentage  string `mapstructure:"materials_claim_percentage"`
}

// IndexSourceConfig 价格指数来源
type IndexSourceConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// TaxConfig 增值税：税率按辖区，或者外部税务服务
type TaxConfig struct {
	Rates   map[string]string `mapstructure:"rates"`
	BaseURL string            `mapstructure:"base_url"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// LedgerConfig 总账过账投递
type LedgerConfig struct {
	Table     string `mapstructure:"table"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	BatchSize int    `mapstructure:"batch_size"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// 配置文件不存在，使用环境变量
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire", 8*time.Hour)
	v.SetDefault("engine.lock_backend", "postgres")
	v.SetDefault("engine.lock_timeout", 10*time.Second)
	v.SetDefault("engine.lock_poll_interval", 50*time.Millisecond)
	v.SetDefault("engine.default_policy.retention_percentage", "0.10")
	v.SetDefault("engine.default_policy.max_retention_mode", "percentage")
	v.SetDefault("engine.default_policy.max_retention_value", "0.05")
	v.SetDefault("engine.default_policy.advance_recovery_percentage", "0")
	v.SetDefault("engine.default_policy.materials_claim_percentage", "0.80")
	v.SetDefault("index_source.timeout", 10*time.Second)
	v.SetDefault("index_source.cache_ttl", 24*time.Hour)
	v.SetDefault("tax.timeout", 10*time.Second)
	v.SetDefault("ledger.batch_size", 100)
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// MinIO
	v.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	v.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("minio.bucket", "MINIO_BUCKET")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Collaborators
	v.BindEnv("engine.lock_backend", "IPC_LOCK_BACKEND")
	v.BindEnv("index_source.base_url", "INDEX_SOURCE_URL")
	v.BindEnv("index_source.token", "INDEX_SOURCE_TOKEN")
	v.BindEnv("tax.base_url", "TAX_SERVICE_URL")
	v.BindEnv("ledger.table", "LEDGER_TABLE")
	v.BindEnv("ledger.region", "AWS_REGION")
	v.BindEnv("ledger.endpoint", "LEDGER_ENDPOINT")
	v.BindEnv("ledger.access_key", "AWS_ACCESS_KEY_ID")
	v.BindEnv("ledger.secret_key", "AWS_SECRET_ACCESS_KEY")
}

// GetEnvOrDefault 获取环境变量，如果不存在则返回默认值
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
