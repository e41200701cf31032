package venue

import (
	"encoding/hex"
	"fmt"
	"strings"

	"main/internal/schema"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var json = sonic.ConfigFastest

// MaxBatchSize is the venue-side cap on transactions per batch frame.
const MaxBatchSize = 50

const codeOK = 200

const (
	frameConnected   = "connected"
	framePing        = "ping"
	framePong        = "pong"
	frameSubscribe   = "subscribe"
	frameError       = "error"
	frameSendTxBatch = "jsonapi/sendtxbatch"

	channelOrders = "account_all_orders"
	channelTrades = "account_all_trades"
)

// OrdersChannel names the private order stream for one account.
func OrdersChannel(account schema.AccountIndex) string {
	return fmt.Sprintf("%s/%d", channelOrders, account)
}

// TradesChannel names the private trade stream for one account.
func TradesChannel(account schema.AccountIndex) string {
	return fmt.Sprintf("%s/%d", channelTrades, account)
}

// MarketScale converts venue decimal strings to integer ticks and lots.
type MarketScale struct {
	PriceDecimals int32 `json:"priceDecimals"`
	SizeDecimals  int32 `json:"sizeDecimals"`
}

func (s MarketScale) PriceTicks(d decimal.Decimal) schema.Price {
	return schema.Price(d.Shift(s.PriceDecimals).IntPart())
}

func (s MarketScale) SizeLots(d decimal.Decimal) schema.Quantity {
	return schema.Quantity(d.Shift(s.SizeDecimals).IntPart())
}

type subscribeFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// txInfo is one signed transaction inside a batch, hex-encoded.
type txInfo struct {
	TxType uint8  `json:"tx_type"`
	Body   string `json:"body"`
	Sig    string `json:"sig"`
}

type batchData struct {
	ID string `json:"id"`
	// TxTypes and TxInfos are JSON arrays re-encoded as strings, matching the
	// venue's double-encoded batch contract.
	TxTypes string `json:"tx_types"`
	TxInfos string `json:"tx_infos"`
	Token   string `json:"token"`
}

type batchFrame struct {
	Type string    `json:"type"`
	Data batchData `json:"data"`
}

func encodeBatch(id string, payloads []schema.SignedPayload, token string) ([]byte, error) {
	txTypes := make([]int, len(payloads))
	txInfos := make([]string, len(payloads))
	for i, p := range payloads {
		txTypes[i] = int(p.TxType)
		info, err := json.MarshalToString(txInfo{
			TxType: p.TxType,
			Body:   hex.EncodeToString(p.Body),
			Sig:    hex.EncodeToString(p.Sig),
		})
		if err != nil {
			return nil, errors.Wrap(err, "encode tx info")
		}
		txInfos[i] = info
	}
	typesJSON, err := json.MarshalToString(txTypes)
	if err != nil {
		return nil, errors.Wrap(err, "encode tx types")
	}
	infosJSON, err := json.MarshalToString(txInfos)
	if err != nil {
		return nil, errors.Wrap(err, "encode tx infos")
	}
	return json.Marshal(batchFrame{
		Type: frameSendTxBatch,
		Data: batchData{
			ID:      id,
			TxTypes: typesJSON,
			TxInfos: infosJSON,
			Token:   token,
		},
	})
}

// txResult is one per-transaction outcome inside a batch reply, positional
// with the submitted entries.
type txResult struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
}

type wireOrder struct {
	OrderIndex          int64           `json:"order_index"`
	ClientOrderIndex    uint64          `json:"client_order_index"`
	MarketIndex         uint32          `json:"market_index"`
	IsAsk               bool            `json:"is_ask"`
	Price               decimal.Decimal `json:"price"`
	InitialBaseAmount   decimal.Decimal `json:"initial_base_amount"`
	FilledBaseAmount    decimal.Decimal `json:"filled_base_amount"`
	RemainingBaseAmount decimal.Decimal `json:"remaining_base_amount"`
	Status              string          `json:"status"`
	Sequence            uint64          `json:"sequence"`
	TxHash              string          `json:"tx_hash,omitempty"`
}

type wireTrade struct {
	TradeID          uint64          `json:"trade_id"`
	MarketIndex      uint32          `json:"market_index"`
	ClientOrderIndex uint64          `json:"client_order_index"`
	IsAsk            bool            `json:"is_ask"`
	Price            decimal.Decimal `json:"price"`
	Size             decimal.Decimal `json:"size"`
	// OrderFilledBaseAmount is the referenced order's cumulative filled amount
	// after this trade.
	OrderFilledBaseAmount decimal.Decimal `json:"order_filled_base_amount"`
	TxHash                string          `json:"tx_hash,omitempty"`
}

// inboundFrame is the superset envelope of everything the venue pushes.
type inboundFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	ID      string `json:"id,omitempty"`
	Code    int32  `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	Results []txResult             `json:"results,omitempty"`
	Orders  map[string][]wireOrder `json:"orders,omitempty"`
	Trades  map[string][]wireTrade `json:"trades,omitempty"`

	APIKeyIndex   *uint8 `json:"api_key_index,omitempty"`
	ExpectedNonce *int64 `json:"expected_nonce,omitempty"`
}

// IsNonceRejection reports whether a per-transaction rejection is a sequence
// conflict rather than a business rejection.
func IsNonceRejection(code int32, message string) bool {
	return code != codeOK && strings.Contains(strings.ToLower(message), "invalid nonce")
}

func isAuthRejection(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "token") || strings.Contains(lower, "auth")
}

func sideOf(isAsk bool) schema.Side {
	if isAsk {
		return schema.SideAsk
	}
	return schema.SideBid
}
