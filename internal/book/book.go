package book

import (
	"sort"
	"sync/atomic"

	"main/internal/schema"
	"main/pkg/exception"
)

// Book is the authoritative in-memory order map. The reconciler is its only
// writer; every other task reads the atomically published snapshot, so no
// lock guards the map itself.
type Book struct {
	orders map[schema.ClientOrderID]*schema.Order
	snap   atomic.Pointer[Snapshot]
}

// New creates an empty book with an empty published snapshot.
func New() *Book {
	b := &Book{orders: make(map[schema.ClientOrderID]*schema.Order)}
	b.publish()
	return b
}

// Insert adds a new order. A client order id may not be reused while a
// previous order under it is non-terminal.
func (b *Book) Insert(order schema.Order) error {
	if existing, ok := b.orders[order.ClientOrderID]; ok && !existing.State.IsTerminal() {
		return exception.ErrDuplicateOrder
	}
	o := order
	b.orders[order.ClientOrderID] = &o
	b.publish()
	return nil
}

// Get returns a copy of the order.
func (b *Book) Get(id schema.ClientOrderID) (schema.Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return schema.Order{}, false
	}
	return *o, true
}

// Mutate applies fn to the order and republishes the snapshot.
func (b *Book) Mutate(id schema.ClientOrderID, fn func(*schema.Order)) error {
	o, ok := b.orders[id]
	if !ok {
		return exception.ErrUnknownOrder
	}
	fn(o)
	b.publish()
	return nil
}

// Remove drops the order from the book.
func (b *Book) Remove(id schema.ClientOrderID) {
	if _, ok := b.orders[id]; !ok {
		return
	}
	delete(b.orders, id)
	b.publish()
}

// Each visits every order. Writer-side only.
func (b *Book) Each(fn func(*schema.Order)) {
	for _, o := range b.orders {
		fn(o)
	}
	b.publish()
}

// Len returns the number of tracked orders.
func (b *Book) Len() int {
	return len(b.orders)
}

// Snapshot returns the last published read view.
func (b *Book) Snapshot() *Snapshot {
	return b.snap.Load()
}

func (b *Book) publish() {
	orders := make([]schema.Order, 0, len(b.orders))
	for _, o := range b.orders {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ClientOrderID < orders[j].ClientOrderID
	})
	snap := &Snapshot{
		Orders: orders,
		byID:   make(map[schema.ClientOrderID]int, len(orders)),
		open:   make(map[slotKey][]int),
	}
	for i, o := range orders {
		snap.byID[o.ClientOrderID] = i
		if o.State.IsOpen() {
			key := slotKey{Market: o.Market, Side: o.Side}
			snap.open[key] = append(snap.open[key], i)
		}
	}
	b.snap.Store(snap)
}

type slotKey struct {
	Market schema.MarketID
	Side   schema.Side
}

// Snapshot is an immutable point-in-time view of the book: the orders sorted
// by id, plus reverse indices by id and by (market, side).
type Snapshot struct {
	Orders []schema.Order

	byID map[schema.ClientOrderID]int
	open map[slotKey][]int
}

// Open returns the orders still holding a quote slot on (market, side).
func (s *Snapshot) Open(market schema.MarketID, side schema.Side) []schema.Order {
	idx := s.open[slotKey{Market: market, Side: side}]
	if len(idx) == 0 {
		return nil
	}
	out := make([]schema.Order, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.Orders[i])
	}
	return out
}

// OpenQty sums the resting quantity on (market, side) across Submitted and
// Live orders. Submitted counts: intent already committed to the wire.
func (s *Snapshot) OpenQty(market schema.MarketID, side schema.Side) schema.Quantity {
	var total schema.Quantity
	for _, i := range s.open[slotKey{Market: market, Side: side}] {
		total += s.Orders[i].LeavesQty()
	}
	return total
}

// Get returns the order under id, if tracked.
func (s *Snapshot) Get(id schema.ClientOrderID) (schema.Order, bool) {
	i, ok := s.byID[id]
	if !ok {
		return schema.Order{}, false
	}
	return s.Orders[i], true
}
