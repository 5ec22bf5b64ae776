package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	session "go.pilab.hu/session"
)

// rawConfig mirrors session.Config with flat, env-bindable keys.
// Tags use mapstructure for Viper unmarshalling.
type rawConfig struct {
	BaseURL string `mapstructure:"BASE_URL"`

	UserProperty              string `mapstructure:"USER_PROPERTY"`
	AccessTokenProperty       string `mapstructure:"ACCESS_TOKEN_PROPERTY"`
	AccessTokenExpireProperty string `mapstructure:"ACCESS_TOKEN_EXPIRE_PROPERTY"`
	RefreshTokenProperty      string `mapstructure:"REFRESH_TOKEN_PROPERTY"`
	RefreshTokenExpireProp    string `mapstructure:"REFRESH_TOKEN_EXPIRE_PROPERTY"`

	LoginURL      string `mapstructure:"LOGIN_URL"`
	LoginMethod   string `mapstructure:"LOGIN_METHOD"`
	LogoutURL     string `mapstructure:"LOGOUT_URL"`
	LogoutMethod  string `mapstructure:"LOGOUT_METHOD"`
	RefreshURL    string `mapstructure:"REFRESH_URL"`
	RefreshMethod string `mapstructure:"REFRESH_METHOD"`
	ProfileURL    string `mapstructure:"PROFILE_URL"`
	ProfileMethod string `mapstructure:"PROFILE_METHOD"`

	LoginRoute         string `mapstructure:"LOGIN_ROUTE"`
	UnauthorizedStatus int    `mapstructure:"UNAUTHORIZED_STATUS"`
	PollIntervalMs     int    `mapstructure:"POLL_INTERVAL_MS"`
}

// Load reads the session configuration from file, environment variables and
// defaults, and validates it.
func Load() (*session.Config, error) {
	v := viper.New()

	v.SetConfigName("session")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/shadow-session/")
	v.AddConfigPath("$HOME/.shadow-session")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Register every key so environment-only values survive Unmarshal.
	for _, key := range []string{
		"BASE_URL",
		"ACCESS_TOKEN_PROPERTY", "ACCESS_TOKEN_EXPIRE_PROPERTY",
		"REFRESH_TOKEN_PROPERTY", "REFRESH_TOKEN_EXPIRE_PROPERTY",
		"LOGIN_URL", "LOGOUT_URL", "REFRESH_URL", "PROFILE_URL",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("USER_PROPERTY", "user")
	v.SetDefault("LOGIN_METHOD", "POST")
	v.SetDefault("LOGOUT_METHOD", "POST")
	v.SetDefault("REFRESH_METHOD", "POST")
	v.SetDefault("PROFILE_METHOD", "GET")
	v.SetDefault("LOGIN_ROUTE", "/login")
	v.SetDefault("UNAUTHORIZED_STATUS", 401)
	v.SetDefault("POLL_INTERVAL_MS", 1000)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults and env vars still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	cfg := &session.Config{
		BaseURL:  raw.BaseURL,
		UserPath: raw.UserProperty,
		AccessToken: session.TokenPaths{
			Token:     raw.AccessTokenProperty,
			ExpiresAt: raw.AccessTokenExpireProperty,
		},
		RefreshToken: session.TokenPaths{
			Token:     raw.RefreshTokenProperty,
			ExpiresAt: raw.RefreshTokenExpireProp,
		},
		Login:              endpoint(raw.LoginURL, raw.LoginMethod),
		Logout:             endpoint(raw.LogoutURL, raw.LogoutMethod),
		Refresh:            endpoint(raw.RefreshURL, raw.RefreshMethod),
		Profile:            endpoint(raw.ProfileURL, raw.ProfileMethod),
		LoginRoute:         raw.LoginRoute,
		UnauthorizedStatus: raw.UnauthorizedStatus,
		PollInterval:       time.Duration(raw.PollIntervalMs) * time.Millisecond,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func endpoint(url, method string) session.Endpoint {
	if url == "" {
		return session.Endpoint{}
	}
	return session.Endpoint{URL: url, Method: session.Method(strings.ToUpper(method))}
}
