package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"main/internal/dispatch"
	"main/internal/nonce"
	"main/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() FileConfig {
	return FileConfig{
		Venue: VenueConfig{
			WsURL:   "wss://venue.example/ws",
			RestURL: "https://venue.example",
			Markets: []MarketConfig{{ID: 1, PriceDecimals: 2, SizeDecimals: 4}},
		},
		Account: AccountConfig{
			Index:       11,
			PrivateKey:  "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
			StartAPIKey: 0,
			EndAPIKey:   2,
		},
		Nonce: NonceConfig{Mode: "optimistic"},
		Quote: QuoteConfig{
			Market:               1,
			ToleranceTicks:       2,
			ExpiryHorizonMinutes: 60,
			TimeInForce:          "gtt",
			IntervalMs:           500,
			Levels: []LevelConfig{
				{Side: "bid", Price: 99, Qty: 10},
				{Side: "sell", Price: 101, Qty: 10},
			},
		},
		Dispatch:  DispatchConfig{AckMode: "strict"},
		Reconcile: ReconcileConfig{AckDeadlineMs: 10_000},
	}
}

func TestResolveValidConfig(t *testing.T) {
	loaded, err := Resolve(validConfig())
	require.NoError(t, err)

	assert.Equal(t, "wss://venue.example/ws", loaded.WsURL)
	assert.Equal(t, schema.AccountIndex(11), loaded.Venue.Account)
	assert.Equal(t, int32(2), loaded.Venue.Scales[1].PriceDecimals)
	assert.Equal(t, nonce.ModeOptimistic, loaded.Nonce.Mode)
	assert.Equal(t, schema.APIKeyIndex(2), loaded.Nonce.EndKey)
	assert.Equal(t, dispatch.AckModeStrict, loaded.Dispatch.AckMode)
	assert.Equal(t, 10*time.Second, loaded.Reconcile.AckDeadline)
	assert.True(t, loaded.CancelAllOnStop)

	require.Len(t, loaded.QuoteSpec.Levels, 2)
	assert.Equal(t, schema.SideBid, loaded.QuoteSpec.Levels[0].Side)
	assert.Equal(t, schema.SideAsk, loaded.QuoteSpec.Levels[1].Side)
	assert.Equal(t, 500*time.Millisecond, loaded.QuoteSpec.Interval)
	assert.Equal(t, time.Hour, loaded.Quote.ExpiryHorizon)
	assert.Equal(t, schema.TimeInForceGTT, loaded.Quote.TimeInForce)
}

func TestResolveCancelAllOnStopOverride(t *testing.T) {
	cfg := validConfig()
	off := false
	cfg.Dispatch.CancelAllOnStop = &off

	loaded, err := Resolve(cfg)
	require.NoError(t, err)
	assert.False(t, loaded.CancelAllOnStop)
}

func TestResolvePrivateKeyFromEnv(t *testing.T) {
	cfg := validConfig()
	key := cfg.Account.PrivateKey
	cfg.Account.PrivateKey = ""

	t.Setenv(privateKeyEnv, key)
	loaded, err := Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, key, loaded.Signer.PrivateKey)

	t.Setenv(privateKeyEnv, "")
	_, err = Resolve(cfg)
	assert.Error(t, err)
}

func TestResolveValidation(t *testing.T) {
	testCases := []struct {
		desc   string
		mutate func(*FileConfig)
	}{
		{desc: "missing ws url", mutate: func(c *FileConfig) { c.Venue.WsURL = "" }},
		{desc: "missing rest url", mutate: func(c *FileConfig) { c.Venue.RestURL = "" }},
		{desc: "no markets", mutate: func(c *FileConfig) { c.Venue.Markets = nil }},
		{desc: "negative scale", mutate: func(c *FileConfig) { c.Venue.Markets[0].PriceDecimals = -1 }},
		{desc: "inverted key range", mutate: func(c *FileConfig) { c.Account.StartAPIKey = 3; c.Account.EndAPIKey = 1 }},
		{desc: "unknown nonce mode", mutate: func(c *FileConfig) { c.Nonce.Mode = "pessimistic" }},
		{desc: "unknown ack mode", mutate: func(c *FileConfig) { c.Dispatch.AckMode = "eventual" }},
		{desc: "quote market without scale", mutate: func(c *FileConfig) { c.Quote.Market = 9 }},
		{desc: "bad level side", mutate: func(c *FileConfig) { c.Quote.Levels[0].Side = "long" }},
		{desc: "zero level price", mutate: func(c *FileConfig) { c.Quote.Levels[0].Price = 0 }},
		{desc: "zero level qty", mutate: func(c *FileConfig) { c.Quote.Levels[0].Qty = 0 }},
		{desc: "bad time in force", mutate: func(c *FileConfig) { c.Quote.TimeInForce = "fok" }},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			_, err := Resolve(cfg)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"venue": {
			"wsUrl": "wss://venue.example/ws",
			"restUrl": "https://venue.example",
			"markets": [{"id": 1, "priceDecimals": 2, "sizeDecimals": 4}]
		},
		"account": {
			"index": 11,
			"privateKey": "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
		},
		"quote": {
			"market": 1,
			"levels": [{"side": "bid", "price": 99, "qty": 10}]
		}
	}`), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, schema.AccountIndex(11), loaded.Signer.Account)
	// Unset interval falls back to one second.
	assert.Equal(t, time.Second, loaded.QuoteSpec.Interval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
