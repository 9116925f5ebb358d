package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the configuration struct for the service.
type Config struct {
	// Tickers represents the tracked tickers.
	Tickers []string
	// FMPAPIkey is the FMP service API Key.
	FMPAPIKey string
	// Backtest is the backtesting flag.
	Backtest bool
	// BacktestDataFilepath is the filepath to the backtest data.
	BacktestDataFilepath string
	// Store is the prediction store, one of rqlite, postgres or memory.
	Store string
	// DBEndpoint is the rqlite database endpoint.
	DBEndpoint string
	// DBUser is the rqlite database user.
	DBUser string
	// DBPass is the rqlite database user pass.
	DBPass string
	// PostgresDSN is the postgres connection string.
	PostgresDSN string
	// MetricsAddr is the listen address of the metrics endpoint.
	MetricsAddr string
	// BaselineMode is the volatility baseline mode, one of samehour or trailing.
	BaselineMode string
	// BaselineSessions is the number of prior sessions averaged in same hour mode.
	BaselineSessions int
	// BaselineHours is the number of trailing hours averaged in trailing mode.
	BaselineHours int
	// ForceDirectional makes choppy hours predict the early bias direction.
	ForceDirectional bool

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Tickers) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no tickers provided for blockcast service"))
	}

	switch cfg.Backtest {
	case true:
		if cfg.BacktestDataFilepath == "" {
			errs = errors.Join(errs, fmt.Errorf("backtest data filepath cannot be an empty string"))
		}
	case false:
		if cfg.FMPAPIKey == "" {
			errs = errors.Join(errs, fmt.Errorf("fmp api key cannot be an empty string"))
		}
	}

	switch cfg.Store {
	case "rqlite":
		if cfg.DBEndpoint == "" {
			errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
		}
	case "postgres":
		if cfg.PostgresDSN == "" {
			errs = errors.Join(errs, fmt.Errorf("postgres dsn cannot be an empty string"))
		}
	case "memory", "":
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown store provided: %s", cfg.Store))
	}

	switch cfg.BaselineMode {
	case "samehour", "trailing", "":
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown baseline mode provided: %s", cfg.BaselineMode))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	err = cfg.registerFlag("tickers", &cfg.Tickers, "the tracked tickers")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("fmpapikey", &cfg.FMPAPIKey, "the FMP api key")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("backtest", &cfg.Backtest, "the backtest flag")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("backtestdatafilepath", &cfg.BacktestDataFilepath, "the backtest data filepath")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("store", &cfg.Store, "the prediction store (rqlite, postgres or memory)")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbendpoint", &cfg.DBEndpoint, "the rqlite database endpoint")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbuser", &cfg.DBUser, "the rqlite database user")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbpass", &cfg.DBPass, "the rqlite database pass")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("postgresdsn", &cfg.PostgresDSN, "the postgres connection string")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("metricsaddr", &cfg.MetricsAddr, "the metrics endpoint listen address")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("baselinemode", &cfg.BaselineMode, "the volatility baseline mode (samehour or trailing)")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("baselinesessions", &cfg.BaselineSessions, "the number of prior sessions averaged for the baseline")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("baselinehours", &cfg.BaselineHours, "the number of trailing hours averaged for the baseline")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("forcedirectional", &cfg.ForceDirectional, "forces choppy hours to predict the early bias direction")
	if err != nil {
		return err
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
