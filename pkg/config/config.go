// Package config layers the engine configuration: process environment for
// secrets and deployment knobs, a YAML strategy file for everything the
// operator tunes between runs. Components receive explicit structs; nothing
// reads ambient globals.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds environment-driven settings. Secrets stay here and never enter
// the strategy file.
type Env struct {
	// Gateway selects the venue implementation: "paper" or "binance".
	Gateway string `envconfig:"GATEWAY" default:"paper"`

	BinanceAPIKey    string `envconfig:"BINANCE_API_KEY"`
	BinanceAPISecret string `envconfig:"BINANCE_API_SECRET"`
	BinanceTestnet   bool   `envconfig:"BINANCE_TESTNET" default:"false"`

	// Paper venue simulation parameters.
	PaperInitialBalance float64 `envconfig:"PAPER_INITIAL_BALANCE" default:"10000"`
	PaperFeeRate        float64 `envconfig:"PAPER_FEE_RATE" default:"0.0004"`
	PaperSlippageBps    float64 `envconfig:"PAPER_SLIPPAGE_BPS" default:"2"`

	DBPath       string `envconfig:"DB_PATH" default:"./data/engine.db"`
	StrategyPath string `envconfig:"STRATEGY_CONFIG" default:"./strategy.yaml"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stdout"`

	// Operator API.
	APIAddr        string `envconfig:"API_ADDR" default:":8780"`
	APIOperatorKey string `envconfig:"API_OPERATOR_KEY"`
	APIJWTSecret   string `envconfig:"API_JWT_SECRET" default:"dev-secret"`

	// Notifier. Empty token disables the Telegram sink.
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`

	// Optional external scorer blended into the signal score.
	AIScorerURL     string `envconfig:"AI_SCORER_URL"`
	AIScorerKey     string `envconfig:"AI_SCORER_KEY"`
	AIScorerTimeout int    `envconfig:"AI_SCORER_TIMEOUT_MS" default:"2000"`
}

// Load reads the environment (optionally seeded from .env) and the strategy
// YAML file it points at.
func Load() (*Env, *Strategy, error) {
	// .env is a development convenience; absence is normal in production.
	_ = godotenv.Load()

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, nil, fmt.Errorf("process environment: %w", err)
	}

	strat, err := LoadStrategy(env.StrategyPath)
	if err != nil {
		return nil, nil, err
	}

	if env.Gateway == "binance" && (env.BinanceAPIKey == "" || env.BinanceAPISecret == "") {
		return nil, nil, fmt.Errorf("gateway binance requires BINANCE_API_KEY and BINANCE_API_SECRET")
	}

	return &env, strat, nil
}
