package config

import (
	"github.com/spf13/viper"
	"sync"
)

var once sync.Once

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")
		viper.BindEnv("admin_chat_id", "ADMIN_CHAT_ID")
		viper.BindEnv("rate_limit_per_minute", "RATE_LIMIT_PER_MINUTE")
		viper.BindEnv("rate_limit_per_month", "RATE_LIMIT_PER_MONTH")
		viper.BindEnv("poll_interval_seconds", "POLL_INTERVAL_SECONDS")
		viper.BindEnv("request_timeout_seconds", "REQUEST_TIMEOUT_SECONDS")
		viper.BindEnv("min_threshold", "MIN_THRESHOLD")
		viper.BindEnv("max_threshold", "MAX_THRESHOLD")
		viper.BindEnv("default_threshold", "DEFAULT_THRESHOLD")
		viper.BindEnv("default_currency", "DEFAULT_CURRENCY")

		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("db_path", "/app/data/bot.db")
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
		viper.SetDefault("admin_chat_id", 0)
		viper.SetDefault("rate_limit_per_minute", 30)
		viper.SetDefault("rate_limit_per_month", 10000)
		viper.SetDefault("poll_interval_seconds", 300)
		viper.SetDefault("request_timeout_seconds", 10)
		viper.SetDefault("min_threshold", 0.001)
		viper.SetDefault("max_threshold", 0.5)
		viper.SetDefault("default_threshold", 0.05)
		viper.SetDefault("default_currency", "usd")
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	InitConfig()
	return viper.GetInt64(key)
}

func GetFloat64(key string) float64 {
	InitConfig()
	return viper.GetFloat64(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}
