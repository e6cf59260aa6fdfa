package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	Entitlement EntitlementConfig
	Admin       AdminConfig
	ClientKeys  ClientKeysConfig
	Notify      NotifyConfig
	CORS        CORSConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	MigrateOnStart  bool          `mapstructure:"migrateOnStart"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EntitlementConfig holds the trial and license-key policy.
type EntitlementConfig struct {
	DefaultTrialDays    int     `mapstructure:"defaultTrialDays"`
	CodeLength          int     `mapstructure:"codeLength"`
	CodeRetryBudget     int     `mapstructure:"codeRetryBudget"`
	MaxKeysPerBatch     int     `mapstructure:"maxKeysPerBatch"`
	RedeemRatePerMinute float64 `mapstructure:"redeemRatePerMinute"`
	RedeemBurst         int     `mapstructure:"redeemBurst"`
}

type AdminConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"passwordHash"`
	JWTSecret    string        `mapstructure:"jwtSecret"`
	TokenTTL     time.Duration `mapstructure:"tokenTTL"`
}

type ClientKeysConfig struct {
	Required bool `mapstructure:"required"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhookURL"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allowOrigins"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.shutdownPeriod", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 5*time.Minute)
	v.SetDefault("database.migrateOnStart", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("entitlement.defaultTrialDays", 14)
	v.SetDefault("entitlement.codeLength", 10)
	v.SetDefault("entitlement.codeRetryBudget", 5)
	v.SetDefault("entitlement.maxKeysPerBatch", 500)
	v.SetDefault("entitlement.redeemRatePerMinute", 10)
	v.SetDefault("entitlement.redeemBurst", 5)

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.passwordHash", "")
	v.SetDefault("admin.jwtSecret", "")
	v.SetDefault("admin.tokenTTL", 12*time.Hour)

	v.SetDefault("clientKeys.required", true)

	v.SetDefault("notify.webhookURL", "")
	v.SetDefault("notify.timeout", 5*time.Second)

	v.SetDefault("cors.allowOrigins", []string{"http://localhost:3000"})

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Entitlement.DefaultTrialDays <= 0 {
		errs = append(errs, fmt.Errorf("entitlement.defaultTrialDays must be positive, got %d", c.Entitlement.DefaultTrialDays))
	}
	if c.Entitlement.CodeLength < 6 {
		errs = append(errs, fmt.Errorf("entitlement.codeLength must be at least 6, got %d", c.Entitlement.CodeLength))
	}
	if c.Entitlement.CodeRetryBudget <= 0 {
		errs = append(errs, errors.New("entitlement.codeRetryBudget must be positive"))
	}
	if c.Entitlement.MaxKeysPerBatch <= 0 {
		errs = append(errs, errors.New("entitlement.maxKeysPerBatch must be positive"))
	}
	if c.Admin.JWTSecret == "" {
		errs = append(errs, errors.New("admin.jwtSecret is required"))
	}
	return errors.Join(errs...)
}
