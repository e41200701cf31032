package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/dispatch"
	"main/internal/nonce"
	"main/internal/quote"
	"main/internal/reconcile"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/venue"
)

// privateKeyEnv is consulted when the config omits the key material.
const privateKeyEnv = "VENUE_PRIVATE_KEY"

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Venue     VenueConfig     `json:"venue"`
	Account   AccountConfig   `json:"account"`
	Nonce     NonceConfig     `json:"nonce"`
	Quote     QuoteConfig     `json:"quote"`
	Risk      risk.Config     `json:"risk"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Audit     AuditConfig     `json:"audit"`
	Profiling ProfilingConfig `json:"profiling"`
}

// VenueConfig describes the venue endpoints and per-market scales.
type VenueConfig struct {
	WsURL           string         `json:"wsUrl"`
	RestURL         string         `json:"restUrl"`
	SubmitTimeoutMs int            `json:"submitTimeoutMs"`
	StaleAfterMs    int            `json:"staleAfterMs"`
	DeadAfterMs     int            `json:"deadAfterMs"`
	EventBuffer     int            `json:"eventBuffer"`
	Markets         []MarketConfig `json:"markets"`
}

// MarketConfig declares one tradable market and its decimal scales.
type MarketConfig struct {
	ID            uint32 `json:"id"`
	PriceDecimals int32  `json:"priceDecimals"`
	SizeDecimals  int32  `json:"sizeDecimals"`
}

// AccountConfig identifies the account and its signing key range.
type AccountConfig struct {
	Index          int64  `json:"index"`
	PrivateKey     string `json:"privateKey"`
	StartAPIKey    uint8  `json:"startApiKey"`
	EndAPIKey      uint8  `json:"endApiKey"`
	AuthTTLMinutes int    `json:"authTtlMinutes"`
}

// NonceConfig selects the lease policy.
type NonceConfig struct {
	Mode         string `json:"mode"`
	RetryBudget  int    `json:"retryBudget"`
	RetryDelayMs int    `json:"retryDelayMs"`
}

// QuoteConfig declares the static quote intent and refresh cadence.
type QuoteConfig struct {
	Market               uint32        `json:"market"`
	ToleranceTicks       int64         `json:"toleranceTicks"`
	ExpiryHorizonMinutes int           `json:"expiryHorizonMinutes"`
	TimeInForce          string        `json:"timeInForce"`
	IntervalMs           int           `json:"intervalMs"`
	Levels               []LevelConfig `json:"levels"`
}

// LevelConfig is one desired resting level.
type LevelConfig struct {
	Side  string `json:"side"`
	Price int64  `json:"price"`
	Qty   int64  `json:"qty"`
}

// DispatchConfig sizes the dispatcher.
type DispatchConfig struct {
	AckMode         string `json:"ackMode"`
	RetryBudget     int    `json:"retryBudget"`
	RetryDelayMinMs int    `json:"retryDelayMinMs"`
	RetryDelayMaxMs int    `json:"retryDelayMaxMs"`
	CancelAllOnStop *bool  `json:"cancelAllOnStop"`
}

// ReconcileConfig sizes the reconciler.
type ReconcileConfig struct {
	AckDeadlineMs   int `json:"ackDeadlineMs"`
	SweepIntervalMs int `json:"sweepIntervalMs"`
	RemovalGraceMs  int `json:"removalGraceMs"`
}

// AuditConfig enables the terminal-outcome store when a DSN is set.
type AuditConfig struct {
	DSN string `json:"dsn"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enable        bool   `json:"enable"`
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// QuoteSpec is the resolved static quote intent.
type QuoteSpec struct {
	Market   schema.MarketID
	Interval time.Duration
	Levels   []schema.QuoteLevel
}

// SignerSpec is the resolved signing identity.
type SignerSpec struct {
	PrivateKey string
	Account    schema.AccountIndex
	AuthTTL    time.Duration
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	WsURL   string
	RestURL string

	Venue           venue.Config
	Signer          SignerSpec
	Nonce           nonce.Config
	Quote           quote.Config
	QuoteSpec       QuoteSpec
	Risk            risk.Config
	Dispatch        dispatch.Config
	Reconcile       reconcile.Config
	CancelAllOnStop bool

	AuditDSN  string
	Profiling ProfilingConfig
}

// Load reads a JSON config file and resolves every component config.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a parsed config and maps it onto component configs.
func Resolve(cfg FileConfig) (Loaded, error) {
	if cfg.Venue.WsURL == "" {
		return Loaded{}, fmt.Errorf("venue wsUrl is empty")
	}
	if cfg.Venue.RestURL == "" {
		return Loaded{}, fmt.Errorf("venue restUrl is empty")
	}
	if len(cfg.Venue.Markets) == 0 {
		return Loaded{}, fmt.Errorf("venue markets is empty")
	}
	scales := make(map[schema.MarketID]venue.MarketScale, len(cfg.Venue.Markets))
	for _, m := range cfg.Venue.Markets {
		if m.PriceDecimals < 0 || m.SizeDecimals < 0 {
			return Loaded{}, fmt.Errorf("market %d scale must be >= 0", m.ID)
		}
		scales[schema.MarketID(m.ID)] = venue.MarketScale{
			PriceDecimals: m.PriceDecimals,
			SizeDecimals:  m.SizeDecimals,
		}
	}

	privateKey := cfg.Account.PrivateKey
	if privateKey == "" {
		privateKey = os.Getenv(privateKeyEnv)
	}
	if privateKey == "" {
		return Loaded{}, fmt.Errorf("account privateKey is empty and %s is unset", privateKeyEnv)
	}
	if cfg.Account.EndAPIKey < cfg.Account.StartAPIKey {
		return Loaded{}, fmt.Errorf("account api key range [%d, %d] is inverted",
			cfg.Account.StartAPIKey, cfg.Account.EndAPIKey)
	}

	nonceMode, ok := nonce.ParseMode(cfg.Nonce.Mode)
	if !ok {
		return Loaded{}, fmt.Errorf("unknown nonce mode: %s", cfg.Nonce.Mode)
	}
	ackMode, ok := dispatch.ParseAckMode(cfg.Dispatch.AckMode)
	if !ok {
		return Loaded{}, fmt.Errorf("unknown ack mode: %s", cfg.Dispatch.AckMode)
	}

	quoteSpec, err := resolveQuoteSpec(cfg.Quote, scales)
	if err != nil {
		return Loaded{}, err
	}
	tif, err := parseTimeInForce(cfg.Quote.TimeInForce)
	if err != nil {
		return Loaded{}, err
	}

	cancelAllOnStop := true
	if cfg.Dispatch.CancelAllOnStop != nil {
		cancelAllOnStop = *cfg.Dispatch.CancelAllOnStop
	}

	account := schema.AccountIndex(cfg.Account.Index)
	return Loaded{
		WsURL:   cfg.Venue.WsURL,
		RestURL: cfg.Venue.RestURL,
		Venue: venue.Config{
			Account:       account,
			Scales:        scales,
			SubmitTimeout: millis(cfg.Venue.SubmitTimeoutMs),
			StaleAfter:    millis(cfg.Venue.StaleAfterMs),
			DeadAfter:     millis(cfg.Venue.DeadAfterMs),
			EventBuffer:   cfg.Venue.EventBuffer,
		},
		Signer: SignerSpec{
			PrivateKey: privateKey,
			Account:    account,
			AuthTTL:    time.Duration(cfg.Account.AuthTTLMinutes) * time.Minute,
		},
		Nonce: nonce.Config{
			Mode:        nonceMode,
			Account:     account,
			StartKey:    schema.APIKeyIndex(cfg.Account.StartAPIKey),
			EndKey:      schema.APIKeyIndex(cfg.Account.EndAPIKey),
			RetryBudget: cfg.Nonce.RetryBudget,
			RetryDelay:  millis(cfg.Nonce.RetryDelayMs),
		},
		Quote: quote.Config{
			ToleranceTicks: schema.Price(cfg.Quote.ToleranceTicks),
			ExpiryHorizon:  time.Duration(cfg.Quote.ExpiryHorizonMinutes) * time.Minute,
			TimeInForce:    tif,
		},
		QuoteSpec: quoteSpec,
		Risk:      cfg.Risk,
		Dispatch: dispatch.Config{
			AckMode:       ackMode,
			RetryBudget:   cfg.Dispatch.RetryBudget,
			RetryDelayMin: millis(cfg.Dispatch.RetryDelayMinMs),
			RetryDelayMax: millis(cfg.Dispatch.RetryDelayMaxMs),
		},
		Reconcile: reconcile.Config{
			AckDeadline:   millis(cfg.Reconcile.AckDeadlineMs),
			SweepInterval: millis(cfg.Reconcile.SweepIntervalMs),
			RemovalGrace:  millis(cfg.Reconcile.RemovalGraceMs),
		},
		CancelAllOnStop: cancelAllOnStop,
		AuditDSN:        cfg.Audit.DSN,
		Profiling:       cfg.Profiling,
	}, nil
}

func resolveQuoteSpec(cfg QuoteConfig, scales map[schema.MarketID]venue.MarketScale) (QuoteSpec, error) {
	market := schema.MarketID(cfg.Market)
	if _, ok := scales[market]; !ok {
		return QuoteSpec{}, fmt.Errorf("quote market %d has no scale entry", cfg.Market)
	}
	levels := make([]schema.QuoteLevel, 0, len(cfg.Levels))
	for i, lvl := range cfg.Levels {
		side, err := parseSide(lvl.Side)
		if err != nil {
			return QuoteSpec{}, fmt.Errorf("quote level %d: %w", i, err)
		}
		if lvl.Price <= 0 {
			return QuoteSpec{}, fmt.Errorf("quote level %d price must be > 0", i)
		}
		if lvl.Qty <= 0 {
			return QuoteSpec{}, fmt.Errorf("quote level %d qty must be > 0", i)
		}
		levels = append(levels, schema.QuoteLevel{
			Side:  side,
			Price: schema.Price(lvl.Price),
			Qty:   schema.Quantity(lvl.Qty),
		})
	}
	interval := millis(cfg.IntervalMs)
	if interval <= 0 {
		interval = time.Second
	}
	return QuoteSpec{Market: market, Interval: interval, Levels: levels}, nil
}

func parseSide(s string) (schema.Side, error) {
	switch s {
	case "bid", "buy":
		return schema.SideBid, nil
	case "ask", "sell":
		return schema.SideAsk, nil
	default:
		return schema.SideUnknown, fmt.Errorf("unknown side: %s", s)
	}
}

func parseTimeInForce(s string) (schema.TimeInForce, error) {
	switch s {
	case "", "gtt":
		return schema.TimeInForceGTT, nil
	case "ioc":
		return schema.TimeInForceIOC, nil
	case "post_only":
		return schema.TimeInForcePostOnly, nil
	default:
		return schema.TimeInForceUnknown, fmt.Errorf("unknown time in force: %s", s)
	}
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
