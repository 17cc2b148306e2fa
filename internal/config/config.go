// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList          []string `mapstructure:"rpc_list"`
	WebSocketURL     string   `mapstructure:"websocket_url"`
	PostgresURL      string   `mapstructure:"postgres_url"`
	HTTPListen       string   `mapstructure:"http_listen"`
	JWTSecret        string   `mapstructure:"jwt_secret"`
	WalletPrivateKey string   `mapstructure:"wallet_private_key"`
	SolPriceURL      string   `mapstructure:"sol_price_url"`
	MarketDataURL    string   `mapstructure:"market_data_url"`
	SMTPHost         string   `mapstructure:"smtp_host"`
	SMTPPort         int      `mapstructure:"smtp_port"`
	SMTPUser         string   `mapstructure:"smtp_user"`
	SMTPPassword     string   `mapstructure:"smtp_password"`
	AdminEmails      []string `mapstructure:"admin_emails"`
	LogFile          string   `mapstructure:"log_file"`
	DebugLogging     bool     `mapstructure:"debug_logging"`
	SolPriceDelay    int      `mapstructure:"sol_price_delay"`
	Retries          int      `mapstructure:"retries"`
}

const (
	DefaultHTTPListen    = ":9000"
	DefaultSolPriceDelay = 30
	DefaultRetries       = 3
	DefaultLogFile       = "sniper.log"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"http_listen":     DefaultHTTPListen,
		"sol_price_delay": DefaultSolPriceDelay,
		"retries":         DefaultRetries,
		"log_file":        DefaultLogFile,
		"smtp_port":       587,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.WebSocketURL != "" {
		if err := validateURLWithCache(cfg.WebSocketURL, "ws"); err != nil {
			return errors.New("invalid WebSocket URL protocol")
		}
	}
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	if cfg.JWTSecret == "" {
		return errors.New("missing jwt_secret in configuration")
	}
	if cfg.WalletPrivateKey == "" {
		return errors.New("missing wallet_private_key in configuration")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.SolPriceDelay <= 0 {
		return errors.New("invalid sol_price_delay")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return errors.New("invalid smtp_port")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("PUMP_SNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if env := v.GetString("JWT_SECRET"); env != "" {
		cfg.JWTSecret = env
	}
	if env := v.GetString("WALLET_PRIVATE_KEY"); env != "" {
		cfg.WalletPrivateKey = env
	}
	if env := v.GetString("POSTGRES_URL"); env != "" {
		cfg.PostgresURL = env
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
