/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the earnings-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                       string `mapstructure:"SERVER_PORT"`
	DatabaseURL                      string `mapstructure:"DATABASE_URL"`
	RedisURL                         string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix             string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                      string `mapstructure:"RABBITMQ_URL"`
	JWTSecret                        string `mapstructure:"JWT_SECRET"`
	ProcessEarningRateLimitPerMinute int    `mapstructure:"PROCESS_EARNING_RATE_LIMIT_PER_MINUTE"`
	WalletCreditMaxRetries           int    `mapstructure:"WALLET_CREDIT_MAX_RETRIES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "earnings:rate_limit")
	viper.SetDefault("PROCESS_EARNING_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("WALLET_CREDIT_MAX_RETRIES", 3)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "EARNINGS_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "EARNINGS_SERVICE_JWT_SECRET")
	_ = viper.BindEnv("PROCESS_EARNING_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WALLET_CREDIT_MAX_RETRIES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "earnings:rate_limit"
	}

	if config.ProcessEarningRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative rate limit configured; disabling\" limit=%d", config.ProcessEarningRateLimitPerMinute)
		config.ProcessEarningRateLimitPerMinute = 0
	}
	if config.WalletCreditMaxRetries <= 0 {
		config.WalletCreditMaxRetries = 3
	}

	return
}
