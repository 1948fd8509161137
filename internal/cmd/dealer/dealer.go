// Package dealer parses dealer daemon flags and launches the runtime.
package dealer

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/housedealer/internal/platform/cmd"
	dealerapp "github.com/louisbranch/housedealer/internal/services/dealer/app"
)

// Config holds dealer command configuration.
type Config struct {
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`
	GRPCPort int `env:"GRPC_PORT" envDefault:"8081"`

	LedgerURL   string `env:"LEDGER_URL"`
	PackageID   string `env:"PACKAGE_ID"`
	Module      string `env:"MODULE"        envDefault:"single_player_blackjack"`
	HouseDataID string `env:"HOUSE_DATA_ID"`

	MasterSecret    string `env:"MASTER_SECRET"`
	HousePrivateKey string `env:"HOUSE_PRIVATE_KEY"`

	RelayURL    string   `env:"RELAY_URL"`
	RelayAPIKey string   `env:"RELAY_API_KEY"`
	GasBudget   uint64   `env:"GAS_BUDGET"    envDefault:"50000000"`
	FeeUnits    []string `env:"FEE_UNITS"     envSeparator:","`

	RetryDelays      []time.Duration `env:"RETRY_DELAYS"       envDefault:"1s,2s,4s" envSeparator:","`
	RetryMaxAttempts int             `env:"RETRY_MAX_ATTEMPTS" envDefault:"4"`
	CallTimeout      time.Duration   `env:"CALL_TIMEOUT"       envDefault:"10s"`
	FinalityTimeout  time.Duration   `env:"FINALITY_TIMEOUT"   envDefault:"10s"`
	AwaitFinality    bool            `env:"AWAIT_FINALITY"     envDefault:"true"`

	DBPath string `env:"DB_PATH" envDefault:"data/dealer.db"`

	EventsEnabled      bool          `env:"EVENTS_ENABLED"`
	EventsPollInterval time.Duration `env:"EVENTS_POLL_INTERVAL" envDefault:"2s"`
	EventsConcurrency  int           `env:"EVENTS_CONCURRENCY"   envDefault:"8"`
	EventsConsumer     string        `env:"EVENTS_CONSUMER"      envDefault:"dealer-events"`

	TriggerPublicKey string `env:"TRIGGER_PUBLIC_KEY"`
	TriggerIssuer    string `env:"TRIGGER_ISSUER"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The trigger HTTP port")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The trigger gRPC port")
	fs.StringVar(&cfg.LedgerURL, "ledger-url", cfg.LedgerURL, "The ledger JSON-RPC endpoint")
	fs.StringVar(&cfg.PackageID, "package-id", cfg.PackageID, "The blackjack contract package")
	fs.StringVar(&cfg.Module, "module", cfg.Module, "The blackjack contract module")
	fs.StringVar(&cfg.HouseDataID, "house-data-id", cfg.HouseDataID, "The house treasury object id")
	fs.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "The fee relay endpoint")
	fs.Uint64Var(&cfg.GasBudget, "gas-budget", cfg.GasBudget, "Gas budget per transaction")
	fs.IntVar(&cfg.RetryMaxAttempts, "retry-max-attempts", cfg.RetryMaxAttempts, "Attempts per retried step, first included")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "Per-call ledger timeout")
	fs.DurationVar(&cfg.FinalityTimeout, "finality-timeout", cfg.FinalityTimeout, "Wait for transaction finality")
	fs.BoolVar(&cfg.AwaitFinality, "await-finality", cfg.AwaitFinality, "Wait for finality after execution")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The draw journal SQLite path")
	fs.BoolVar(&cfg.EventsEnabled, "events", cfg.EventsEnabled, "Poll contract events and respond automatically")
	fs.DurationVar(&cfg.EventsPollInterval, "events-poll-interval", cfg.EventsPollInterval, "Contract event poll interval")
	fs.IntVar(&cfg.EventsConcurrency, "events-concurrency", cfg.EventsConcurrency, "Games handled in parallel per event batch")
	fs.StringVar(&cfg.EventsConsumer, "events-consumer", cfg.EventsConsumer, "Event cursor name")
	fs.StringVar(&cfg.TriggerIssuer, "trigger-issuer", cfg.TriggerIssuer, "Required issuer of trigger tokens")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the dealer runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDealer, func(ctx context.Context, logger *zap.Logger) error {
		return dealerapp.Run(ctx, cfg.runtimeConfig(), logger)
	})
}

func (cfg Config) runtimeConfig() dealerapp.RuntimeConfig {
	return dealerapp.RuntimeConfig{
		HTTPPort:           cfg.HTTPPort,
		GRPCPort:           cfg.GRPCPort,
		LedgerURL:          cfg.LedgerURL,
		PackageID:          cfg.PackageID,
		Module:             cfg.Module,
		HouseDataID:        cfg.HouseDataID,
		MasterSecret:       cfg.MasterSecret,
		HousePrivateKey:    cfg.HousePrivateKey,
		RelayURL:           cfg.RelayURL,
		RelayAPIKey:        cfg.RelayAPIKey,
		GasBudget:          cfg.GasBudget,
		FeeUnits:           cfg.FeeUnits,
		RetryDelays:        cfg.RetryDelays,
		RetryMaxAttempts:   cfg.RetryMaxAttempts,
		CallTimeout:        cfg.CallTimeout,
		FinalityTimeout:    cfg.FinalityTimeout,
		AwaitFinality:      cfg.AwaitFinality,
		DBPath:             cfg.DBPath,
		EventsEnabled:      cfg.EventsEnabled,
		EventsPollInterval: cfg.EventsPollInterval,
		EventsConcurrency:  cfg.EventsConcurrency,
		EventsConsumer:     cfg.EventsConsumer,
		TriggerPublicKey:   cfg.TriggerPublicKey,
		TriggerIssuer:      cfg.TriggerIssuer,
	}
}
