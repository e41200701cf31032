package venue

import (
	"strconv"
	"strings"

	"main/internal/schema"

	"github.com/yanun0323/logs"
)

// Venue order status vocabulary. Anything canceled-* confirms a cancel.
const (
	StatusPending  = "pending"
	StatusOpen     = "open"
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
	StatusExpired  = "canceled-expired"
)

func decodeOrderEvents(frame *inboundFrame, scales map[schema.MarketID]MarketScale, tsRecv int64) []schema.Event {
	var events []schema.Event
	for marketKey, orders := range frame.Orders {
		market, ok := parseMarketKey(marketKey)
		if !ok {
			logs.Warnf("order update with bad market key: %s", marketKey)
			continue
		}
		scale, ok := scales[market]
		if !ok {
			logs.Warnf("order update for unconfigured market: %d", market)
			continue
		}
		for _, o := range orders {
			kind := schema.EventOrderUpdate
			if strings.HasPrefix(o.Status, StatusCanceled) {
				kind = schema.EventCancelConfirmed
			}
			events = append(events, schema.Event{
				Kind:          kind,
				Seq:           o.Sequence,
				ClientOrderID: schema.ClientOrderID(o.ClientOrderIndex),
				Market:        market,
				Side:          sideOf(o.IsAsk),
				Price:         scale.PriceTicks(o.Price),
				Qty:           scale.SizeLots(o.InitialBaseAmount),
				FilledQty:     scale.SizeLots(o.FilledBaseAmount),
				Status:        o.Status,
				TxHash:        o.TxHash,
				TsRecv:        tsRecv,
			})
		}
	}
	return events
}

func decodeTradeEvents(frame *inboundFrame, scales map[schema.MarketID]MarketScale, tsRecv int64) []schema.Event {
	var events []schema.Event
	for marketKey, trades := range frame.Trades {
		market, ok := parseMarketKey(marketKey)
		if !ok {
			logs.Warnf("trade update with bad market key: %s", marketKey)
			continue
		}
		scale, ok := scales[market]
		if !ok {
			logs.Warnf("trade update for unconfigured market: %d", market)
			continue
		}
		for _, t := range trades {
			events = append(events, schema.Event{
				Kind:          schema.EventFill,
				Seq:           t.TradeID,
				ClientOrderID: schema.ClientOrderID(t.ClientOrderIndex),
				Market:        market,
				Side:          sideOf(t.IsAsk),
				Price:         scale.PriceTicks(t.Price),
				Qty:           scale.SizeLots(t.Size),
				FilledQty:     scale.SizeLots(t.OrderFilledBaseAmount),
				TxHash:        t.TxHash,
				TsRecv:        tsRecv,
			})
		}
	}
	return events
}

func parseMarketKey(key string) (schema.MarketID, bool) {
	v, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return 0, false
	}
	return schema.MarketID(v), true
}
