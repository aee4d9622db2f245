package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL string

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	Issuer             string
	Audience           string

	PasswordPepper string

	HTTPAddress      string
	CookieDomain     string
	AllowedOrigins   []string
	AllowCredentials bool
	HTTPSCertFile    string
	HTTPSKeyFile     string

	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3BaseEndpoint string
	MediaBaseURL   string
}

var envKeys = []string{
	"DATABASE_URL",
	"REDIS_ADDRESS",
	"REDIS_PASSWORD",
	"REDIS_DB",
	"ACCESS_TOKEN_SECRET",
	"REFRESH_TOKEN_SECRET",
	"ACCESS_TOKEN_TTL",
	"REFRESH_TOKEN_TTL",
	"JWT_ISSUER",
	"JWT_AUDIENCE",
	"PASSWORD_PEPPER",
	"HTTP_ADDRESS",
	"COOKIE_DOMAIN",
	"ALLOWED_ORIGINS",
	"ALLOW_CREDENTIALS",
	"HTTPS_CERT_FILE",
	"HTTPS_KEY_FILE",
	"S3_REGION",
	"S3_BUCKET",
	"S3_ACCESS_KEY",
	"S3_SECRET_KEY",
	"S3_BASE_ENDPOINT",
	"MEDIA_BASE_URL",
}

var required = []string{
	"DATABASE_URL",
	"REDIS_ADDRESS",
	"ACCESS_TOKEN_SECRET",
	"REFRESH_TOKEN_SECRET",
	"ACCESS_TOKEN_TTL",
	"REFRESH_TOKEN_TTL",
	"JWT_ISSUER",
	"JWT_AUDIENCE",
	"PASSWORD_PEPPER",
	"S3_BUCKET",
}

// Load reads the whole configuration from the environment once; the
// result is injected into constructors and never consulted ad hoc.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	v.SetDefault("HTTP_ADDRESS", ":8080")

	for _, key := range required {
		if v.GetString(key) == "" {
			return nil, fmt.Errorf("config: %s is required", key)
		}
	}

	accessTTL, err := time.ParseDuration(v.GetString("ACCESS_TOKEN_TTL"))
	if err != nil {
		return nil, fmt.Errorf("config: bad ACCESS_TOKEN_TTL: %w", err)
	}
	refreshTTL, err := time.ParseDuration(v.GetString("REFRESH_TOKEN_TTL"))
	if err != nil {
		return nil, fmt.Errorf("config: bad REFRESH_TOKEN_TTL: %w", err)
	}
	if refreshTTL <= accessTTL {
		return nil, fmt.Errorf("config: REFRESH_TOKEN_TTL must exceed ACCESS_TOKEN_TTL")
	}

	// Один утёкший секрет не должен компрометировать второй класс токенов.
	if v.GetString("ACCESS_TOKEN_SECRET") == v.GetString("REFRESH_TOKEN_SECRET") {
		return nil, fmt.Errorf("config: access and refresh token secrets must differ")
	}

	return &Config{
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisAddress:       v.GetString("REDIS_ADDRESS"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		AccessTokenSecret:  v.GetString("ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: v.GetString("REFRESH_TOKEN_SECRET"),
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
		Issuer:             v.GetString("JWT_ISSUER"),
		Audience:           v.GetString("JWT_AUDIENCE"),
		PasswordPepper:     v.GetString("PASSWORD_PEPPER"),
		HTTPAddress:        v.GetString("HTTP_ADDRESS"),
		CookieDomain:       v.GetString("COOKIE_DOMAIN"),
		AllowedOrigins:     v.GetStringSlice("ALLOWED_ORIGINS"),
		AllowCredentials:   v.GetBool("ALLOW_CREDENTIALS"),
		HTTPSCertFile:      v.GetString("HTTPS_CERT_FILE"),
		HTTPSKeyFile:       v.GetString("HTTPS_KEY_FILE"),
		S3Region:           v.GetString("S3_REGION"),
		S3Bucket:           v.GetString("S3_BUCKET"),
		S3AccessKey:        v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:        v.GetString("S3_SECRET_KEY"),
		S3BaseEndpoint:     v.GetString("S3_BASE_ENDPOINT"),
		MediaBaseURL:       v.GetString("MEDIA_BASE_URL"),
	}, nil
}
