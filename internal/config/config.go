// Package config holds the instance configuration, loaded from a YAML file
// with environment overrides.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Configuration struct {
	// Name of the instance, shown in actor documents.
	Name string
	// Domain is the host this instance federates under. All actor URIs are
	// derived from it and never stored as free text anywhere else.
	Domain string
	Https  bool
	Port   uint16
	// Url is the instance's base URL, derived from Domain and Https.
	Url *url.URL
	// Username of the instance-level actor.
	InstanceUsername string
	// FederationEnabled disables all inbox processing when false. The HTTP
	// surface answers 404 in that case.
	FederationEnabled bool
	// RsaKeySize is the size of the RSA keys generated for local actors.
	RsaKeySize int

	// DbUrl is the path to the database file.
	DbUrl            string
	MigrationsFolder string

	// AdminToken authenticates the federation admin API. Authentication
	// proper lives outside this service; the token is handed to it.
	AdminToken string

	// RateLimitMaxAttempts is the number of inbound requests allowed per
	// domain within one window.
	RateLimitMaxAttempts int64
	// RateLimitWindowMinutes is the width of the rate-limit window.
	RateLimitWindowMinutes int

	// BlocklistCacheTTLSeconds bounds how long a blocklist verdict may be
	// served from cache after the underlying row changed out of band.
	BlocklistCacheTTLSeconds int

	// DeliveryMaxAttempts bounds outbound delivery retries.
	DeliveryMaxAttempts int
	// DeliveryTimeoutSeconds bounds a single outbound HTTP call.
	DeliveryTimeoutSeconds int

	Debug bool
}

// ReadConfig loads atoll.yaml from the working directory or /etc/atoll,
// applying ATOLL_* environment overrides on top.
func ReadConfig() (Configuration, error) {
	v := viper.New()
	v.SetConfigName("atoll")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/atoll")
	v.SetEnvPrefix("atoll")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("name", "atoll")
	v.SetDefault("https", true)
	v.SetDefault("port", 8080)
	v.SetDefault("instanceusername", "atoll")
	v.SetDefault("federationenabled", true)
	v.SetDefault("rsakeysize", 2048)
	v.SetDefault("dburl", "atoll.db")
	v.SetDefault("migrationsfolder", "migrations")
	v.SetDefault("ratelimitmaxattempts", 60)
	v.SetDefault("ratelimitwindowminutes", 1)
	v.SetDefault("blocklistcachettlseconds", 300)
	v.SetDefault("deliverymaxattempts", 5)
	v.SetDefault("deliverytimeoutseconds", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Configuration{}, err
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return Configuration{}, err
	}

	if cfg.Domain == "" {
		return Configuration{}, fmt.Errorf("config: domain is required")
	}

	scheme := "https"
	if !cfg.Https {
		scheme = "http"
	}
	u, err := url.Parse(scheme + "://" + cfg.Domain)
	if err != nil {
		return Configuration{}, fmt.Errorf("config: invalid domain %q: %w", cfg.Domain, err)
	}
	cfg.Url = u
	return cfg, nil
}
