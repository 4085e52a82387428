package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/ArkLabsHQ/lnswap/pkg/swap"
	"github.com/ArkLabsHQ/lnswap/utils"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "LNSWAP"

	ClaimerProcess = "process"
	ClaimerDaemon  = "daemon"
	ClaimerNone    = "none"
)

const (
	Datadir            = "DATADIR"
	HTTPPort           = "HTTP_PORT"
	LogLevel           = "LOG_LEVEL"
	Network            = "NETWORK"
	BoltzURL           = "BOLTZ_URL"
	BoltzWSURL         = "BOLTZ_WS_URL"
	FromCurrency       = "FROM_CURRENCY"
	ToCurrency         = "TO_CURRENCY"
	DestinationAddress = "DESTINATION_ADDRESS"
	ClaimCovenant      = "CLAIM_COVENANT"
	ClaimerType        = "CLAIMER_TYPE"
	ClaimerPath        = "CLAIMER_PATH"
	ClaimerURL         = "CLAIMER_URL"
	ClaimTimeout       = "CLAIM_TIMEOUT"
	ConnectTimeout     = "CONNECT_TIMEOUT"
	KeepAliveInterval  = "KEEPALIVE_INTERVAL"
	PaidStatuses       = "PAID_STATUSES"
	FailedStatuses     = "FAILED_STATUSES"
	Mnemonic           = "MNEMONIC"
	SweepInterval      = "SWEEP_INTERVAL"
	HistoryRetention   = "HISTORY_RETENTION"
	ExpiryGrace        = "EXPIRY_GRACE"
)

const (
	DefaultDatadir           = "lnswap"
	DefaultHTTPPort          = 7070
	DefaultLogLevel          = 4
	DefaultNetwork           = "mainnet"
	DefaultFromCurrency      = "BTC"
	DefaultToCurrency        = "L-BTC"
	DefaultClaimCovenant     = false
	DefaultClaimerType       = ClaimerNone
	DefaultClaimTimeout      = 120
	DefaultConnectTimeout    = 10
	DefaultKeepAliveInterval = 30
	DefaultSweepInterval     = 60
	DefaultHistoryRetention  = 86400
	DefaultExpiryGrace       = 300
)

type Config struct {
	Datadir            string `mapstructure:"DATADIR" envDefault:"lnswap"`
	HTTPPort           uint32 `mapstructure:"HTTP_PORT" envDefault:"7070"`
	LogLevel           uint32 `mapstructure:"LOG_LEVEL" envDefault:"4"`
	Network            string `mapstructure:"NETWORK" envDefault:"mainnet"`
	BoltzURL           string `mapstructure:"BOLTZ_URL" envDefault:""`
	BoltzWSURL         string `mapstructure:"BOLTZ_WS_URL" envDefault:""`
	FromCurrency       string `mapstructure:"FROM_CURRENCY" envDefault:"BTC"`
	ToCurrency         string `mapstructure:"TO_CURRENCY" envDefault:"L-BTC"`
	DestinationAddress string `mapstructure:"DESTINATION_ADDRESS" envDefault:""`
	ClaimCovenant      bool   `mapstructure:"CLAIM_COVENANT" envDefault:"false"`
	ClaimerType        string `mapstructure:"CLAIMER_TYPE" envDefault:"none"`
	ClaimerPath        string `mapstructure:"CLAIMER_PATH" envDefault:""`
	ClaimerURL         string `mapstructure:"CLAIMER_URL" envDefault:""`
	ClaimTimeout       uint32 `mapstructure:"CLAIM_TIMEOUT" envDefault:"120"`
	ConnectTimeout     uint32 `mapstructure:"CONNECT_TIMEOUT" envDefault:"10"`
	KeepAliveInterval  uint32 `mapstructure:"KEEPALIVE_INTERVAL" envDefault:"30"`
	PaidStatuses       string `mapstructure:"PAID_STATUSES" envDefault:""`
	FailedStatuses     string `mapstructure:"FAILED_STATUSES" envDefault:""`
	Mnemonic           string `mapstructure:"MNEMONIC" envDefault:""`
	SweepInterval      uint32 `mapstructure:"SWEEP_INTERVAL" envDefault:"60"`
	HistoryRetention   uint32 `mapstructure:"HISTORY_RETENTION" envDefault:"86400"`
	ExpiryGrace        uint32 `mapstructure:"EXPIRY_GRACE" envDefault:"300"`

	network *chaincfg.Params
	policy  boltz.StatusPolicy
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := setDefaultConfig(v); err != nil {
		return nil, fmt.Errorf("error setting default config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}

	if err := config.initDatadir(); err != nil {
		return nil, fmt.Errorf("error initializing data directory: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	network, err := networkFromString(c.Network)
	if err != nil {
		return err
	}
	c.network = network

	if c.BoltzURL == "" {
		return fmt.Errorf("missing boltz url")
	}
	if _, err := utils.ValidateURL(c.BoltzURL); err != nil {
		return fmt.Errorf("invalid boltz url: %v", err)
	}
	if c.BoltzWSURL != "" {
		if _, err := utils.ValidateWebsocketURL(c.BoltzWSURL); err != nil {
			return fmt.Errorf("invalid boltz ws url: %v", err)
		}
	}

	from, to := boltz.Currency(c.FromCurrency), boltz.Currency(c.ToCurrency)
	if from != boltz.CurrencyBtc {
		return fmt.Errorf("unsupported source currency %s", c.FromCurrency)
	}
	if to != boltz.CurrencyBtc && to != boltz.CurrencyLiquid {
		return fmt.Errorf("unsupported destination currency %s", c.ToCurrency)
	}
	if c.DestinationAddress != "" {
		if err := swap.ValidateDestination(to, c.DestinationAddress, c.network); err != nil {
			return fmt.Errorf("invalid destination address: %v", err)
		}
	}

	switch c.ClaimerType {
	case ClaimerNone:
	case ClaimerProcess:
		if c.ClaimerPath == "" {
			return fmt.Errorf("claimer type %s requires %s", ClaimerProcess, ClaimerPath)
		}
	case ClaimerDaemon:
		if _, err := utils.ValidateURL(c.ClaimerURL); err != nil {
			return fmt.Errorf("invalid claimer url: %v", err)
		}
	default:
		return fmt.Errorf("unknown claimer type: %s", c.ClaimerType)
	}
	if c.ClaimerType != ClaimerNone && c.DestinationAddress == "" {
		return fmt.Errorf("claiming requires a destination address")
	}

	if c.Mnemonic != "" {
		if err := utils.IsValidMnemonic(c.Mnemonic); err != nil {
			return err
		}
	}

	c.policy = boltz.NewStatusPolicy(splitList(c.PaidStatuses), splitList(c.FailedStatuses))
	return nil
}

func (c *Config) NetworkParams() *chaincfg.Params {
	return c.network
}

func (c *Config) StatusPolicy() boltz.StatusPolicy {
	return c.policy
}

func (c *Config) ClaimTimeoutDuration() time.Duration {
	return seconds(c.ClaimTimeout)
}

func (c *Config) ConnectTimeoutDuration() time.Duration {
	return seconds(c.ConnectTimeout)
}

func (c *Config) KeepAliveDuration() time.Duration {
	return seconds(c.KeepAliveInterval)
}

func (c *Config) SweepIntervalDuration() time.Duration {
	return seconds(c.SweepInterval)
}

func (c *Config) HistoryRetentionDuration() time.Duration {
	return seconds(c.HistoryRetention)
}

func (c *Config) ExpiryGraceDuration() time.Duration {
	return seconds(c.ExpiryGrace)
}

// Claimer returns the claim strategy selected by CLAIMER_TYPE, nil for none.
func (c *Config) Claimer() swap.Claimer {
	switch c.ClaimerType {
	case ClaimerProcess:
		return &swap.ProcessClaimer{Path: cleanAndExpandPath(c.ClaimerPath)}
	case ClaimerDaemon:
		return &swap.DaemonClaimer{URL: c.ClaimerURL}
	default:
		return nil
	}
}

func (c *Config) initDatadir() error {
	if c.Datadir == DefaultDatadir {
		c.Datadir = appDatadir(DefaultDatadir, false)
	} else {
		c.Datadir = cleanAndExpandPath(c.Datadir)
	}
	return makeDirectoryIfNotExists(c.Datadir)
}

func networkFromString(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network: %s", name)
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func seconds(n uint32) time.Duration {
	return time.Duration(n) * time.Second
}

func setDefaultConfig(v *viper.Viper) error {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		def := f.Tag.Get("envDefault")
		if def != "" {
			v.SetDefault(key, def)
		}
		err := v.BindEnv(key)
		if err != nil {
			return fmt.Errorf("error binding env variable for key %s: %w", key, err)
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// appDatadir returns an operating system specific directory to be used for
// storing application data.
func appDatadir(appName string, roaming bool) string {
	if appName == "" || appName == "." {
		return "."
	}

	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	appNameLower := string(unicode.ToLower(rune(appName[0]))) + appName[1:]

	var homeDir string
	usr, err := user.Current()
	if err == nil {
		homeDir = usr.HomeDir
	}
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if roaming || appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}
	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library", "Application Support", appNameUpper)
		}
	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appNameLower)
		}
	}

	return "."
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}
		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}
