package app

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/louisbranch/housedealer/internal/services/dealer/observability"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor"
)

func testConfig(t *testing.T) RuntimeConfig {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[3] = 9
	return RuntimeConfig{
		LedgerURL:       "http://127.0.0.1:1/ledger",
		RelayURL:        "http://127.0.0.1:1/relay",
		PackageID:       "0xabc",
		HouseDataID:     "0xhouse",
		MasterSecret:    "runtime test master secret",
		HousePrivateKey: hex.EncodeToString(seed),
		DBPath:          filepath.Join(t.TempDir(), "nested", "dealer.db"),
		FeeUnits:        []string{"0xcoin1", "0xcoin2"},
	}
}

func TestNormalizedRequiresSettings(t *testing.T) {
	base := testConfig(t)
	cases := map[string]func(*RuntimeConfig){
		"ledger url":    func(c *RuntimeConfig) { c.LedgerURL = " " },
		"relay url":     func(c *RuntimeConfig) { c.RelayURL = "" },
		"package id":    func(c *RuntimeConfig) { c.PackageID = "" },
		"house data id": func(c *RuntimeConfig) { c.HouseDataID = "" },
		"master secret": func(c *RuntimeConfig) { c.MasterSecret = "" },
		"house key":     func(c *RuntimeConfig) { c.HousePrivateKey = "" },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if _, err := cfg.normalized(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	cfg, err := base.normalized()
	if err != nil {
		t.Fatalf("normalized: %v", err)
	}
	if cfg.HTTPPort != defaultHTTPPort || cfg.GRPCPort != defaultGRPCPort {
		t.Fatalf("ports = %d/%d", cfg.HTTPPort, cfg.GRPCPort)
	}
	if cfg.CallTimeout <= 0 || cfg.FinalityTimeout <= 0 {
		t.Fatalf("timeouts = %v/%v", cfg.CallTimeout, cfg.FinalityTimeout)
	}
}

func TestBuildRejectsBadKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.HousePrivateKey = "not-a-key"
	if _, err := Build(cfg, nil); err == nil {
		t.Fatal("expected house key error")
	}

	cfg = testConfig(t)
	cfg.TriggerPublicKey = "c2hvcnQ="
	if _, err := Build(cfg, nil); err == nil {
		t.Fatal("expected trigger key error")
	}
}

func TestBuildServesHealth(t *testing.T) {
	rt, err := Build(testConfig(t), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	if rt.Dealer() == nil {
		t.Fatal("expected dealer")
	}

	rr := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d body %s", rr.Code, rr.Body.String())
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventsEnabled = true
	cfg.EventsPollInterval = time.Hour
	rt, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen http: %v", err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen grpc: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx, httpLis, grpcLis) }()

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestSponsorObserverLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	observe := sponsorObserver(zap.New(core), observability.NewMetrics("app-test"))

	observe(sponsor.Attempt{PayloadDigest: "p", AttemptIndex: 1, Outcome: sponsor.OutcomeSponsored})
	observe(sponsor.Attempt{PayloadDigest: "p", AttemptIndex: 2, Outcome: sponsor.OutcomeFailed, Err: errors.New("relay down")})
	if logs.FilterMessage("sponsor attempt failed").Len() != 1 {
		t.Fatalf("warn logs = %d, want 1", logs.Len())
	}
}
