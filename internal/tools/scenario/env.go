package scenario

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/draw"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger/memledger"
	"github.com/louisbranch/housedealer/internal/services/dealer/matcher"
	"github.com/louisbranch/housedealer/internal/services/dealer/observability"
	"github.com/louisbranch/housedealer/internal/services/dealer/orchestrator"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor/memrelay"
	"github.com/louisbranch/housedealer/internal/services/dealer/storage/sqlite"
)

const (
	scenarioPlayer       = "0xscenario-player"
	scenarioHouseBalance = 100_000_000_000
	scenarioFeeUnits     = 4
)

// env is the in-process ledger, relay and dealer one scenario runs against.
type env struct {
	ledger      *memledger.Ledger
	relay       *memrelay.Relay
	store       *sqlite.Store
	dealer      *orchestrator.Dealer
	houseDataID string
	player      string
}

func stepPolicy(attempts int) retry.Policy {
	return retry.Policy{
		Delays:      []time.Duration{time.Millisecond, 5 * time.Millisecond, 20 * time.Millisecond},
		MaxAttempts: attempts,
	}
}

func newEnv(name, masterSecret string, logger *zap.Logger) (*env, error) {
	if masterSecret == "" {
		masterSecret = "scenario:" + name
	}
	drawKey, err := draw.DeriveSigningKey([]byte(masterSecret))
	if err != nil {
		return nil, fmt.Errorf("derive draw key: %w", err)
	}
	seed := sha256.Sum256([]byte("house:" + masterSecret))
	signer := sponsor.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:]))

	l := memledger.New(memledger.Options{})
	c := l.Contract()
	relay, err := memrelay.New(memrelay.Options{Ledger: l, Targets: c.AllowedTargets()})
	if err != nil {
		return nil, fmt.Errorf("new relay: %w", err)
	}
	units := make([]string, 0, scenarioFeeUnits)
	for range scenarioFeeUnits {
		units = append(units, l.AddGasCoin(relay.Address()))
	}
	houseID, err := l.CreateHouseData(signer.Address(), drawKey.PublicKey(), scenarioHouseBalance)
	if err != nil {
		return nil, fmt.Errorf("create house data: %w", err)
	}

	store, err := sqlite.Open(sqlite.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	pipeline := sponsor.NewPipeline(relay, l, signer, sponsor.Options{
		Policy:                 stepPolicy(3),
		AllowedMoveCallTargets: c.AllowedTargets(),
		Logger:                 logger,
	})
	m := matcher.New(
		matcher.NewSearchLookup(l, c, matcher.DefaultPageSize, logger),
		matcher.NewDirectLookup(l),
		stepPolicy(5),
		logger,
	)
	dealer, err := orchestrator.New(orchestrator.Deps{
		Ledger:       l,
		Signer:       signer,
		DrawKey:      drawKey,
		Contract:     c,
		HouseDataID:  houseID,
		Pipeline:     pipeline,
		Matcher:      m,
		Journal:      store,
		FeePool:      sponsor.NewFeePool(units),
		Confirmation: stepPolicy(8),
		Logger:       logger,
		Metrics:      observability.NewMetrics("scenario"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("new dealer: %w", err)
	}
	return &env{
		ledger:      l,
		relay:       relay,
		store:       store,
		dealer:      dealer,
		houseDataID: houseID,
		player:      scenarioPlayer,
	}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}
