package applogic

import (
	"encoding/binary"
	"fmt"

	"github.com/jonboulle/clockwork"
)

// TypeMarketData is the default application-logic type.
const TypeMarketData uint8 = 0

// Wire sizes of the packed records. Integers are big-endian on the wire.
const (
	MarketDataSize = 24 // symbol[8] + price u32 + quantity u32 + timestamp u64
	OrderSize      = 41 // symbol[8] + price u32 + quantity u32 + side u8 + timestamp u64 + clOrdID[16]
)

const (
	// priceThreshold is the trigger price in hundredths of a currency unit.
	priceThreshold = 10000

	orderQuantity = 100

	SideBuy  uint8 = 0
	SideSell uint8 = 1
)

// MarketData is one market-data tick as carried on the wire.
type MarketData struct {
	Symbol    [8]byte
	Price     uint32
	Quantity  uint32
	Timestamp uint64
}

// ParseMarketData decodes a packed market-data record from payload.
func ParseMarketData(payload []byte) (MarketData, error) {
	var m MarketData
	if len(payload) < MarketDataSize {
		return m, fmt.Errorf("%w: market data %d bytes, need %d", ErrMalformed, len(payload), MarketDataSize)
	}
	copy(m.Symbol[:], payload[0:8])
	m.Price = binary.BigEndian.Uint32(payload[8:12])
	m.Quantity = binary.BigEndian.Uint32(payload[12:16])
	m.Timestamp = binary.BigEndian.Uint64(payload[16:24])
	return m, nil
}

// MarshalBinary encodes m in the packed wire layout.
func (m MarketData) MarshalBinary() ([]byte, error) {
	b := make([]byte, MarketDataSize)
	copy(b[0:8], m.Symbol[:])
	binary.BigEndian.PutUint32(b[8:12], m.Price)
	binary.BigEndian.PutUint32(b[12:16], m.Quantity)
	binary.BigEndian.PutUint64(b[16:24], m.Timestamp)
	return b, nil
}

// Order is the synthesised trading order sent in response to a trigger.
type Order struct {
	Symbol    [8]byte
	Price     uint32
	Quantity  uint32
	Side      uint8
	Timestamp uint64
	ClOrdID   [16]byte
}

// MarshalBinary encodes o in the packed wire layout.
func (o Order) MarshalBinary() ([]byte, error) {
	b := make([]byte, OrderSize)
	copy(b[0:8], o.Symbol[:])
	binary.BigEndian.PutUint32(b[8:12], o.Price)
	binary.BigEndian.PutUint32(b[12:16], o.Quantity)
	b[16] = o.Side
	binary.BigEndian.PutUint64(b[17:25], o.Timestamp)
	copy(b[25:41], o.ClOrdID[:])
	return b, nil
}

// ParseOrder decodes a packed order record, used by tests and tooling.
func ParseOrder(payload []byte) (Order, error) {
	var o Order
	if len(payload) < OrderSize {
		return o, fmt.Errorf("%w: order %d bytes, need %d", ErrMalformed, len(payload), OrderSize)
	}
	copy(o.Symbol[:], payload[0:8])
	o.Price = binary.BigEndian.Uint32(payload[8:12])
	o.Quantity = binary.BigEndian.Uint32(payload[12:16])
	o.Side = payload[16]
	o.Timestamp = binary.BigEndian.Uint64(payload[17:25])
	copy(o.ClOrdID[:], payload[25:41])
	return o, nil
}

// MarketDataHandler turns low-priced ticks into buy orders: price below
// the threshold bids one cent higher for a fixed quantity.
type MarketDataHandler struct {
	clock clockwork.Clock
}

func NewMarketDataHandler(clock clockwork.Clock) *MarketDataHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MarketDataHandler{clock: clock}
}

func (h *MarketDataHandler) Name() string { return "market-data" }

func (h *MarketDataHandler) Handle(payload []byte) ([]byte, error) {
	m, err := ParseMarketData(payload)
	if err != nil {
		return nil, err
	}
	if m.Price >= priceThreshold {
		return nil, nil
	}

	o := Order{
		Symbol:    m.Symbol,
		Price:     m.Price + 1,
		Quantity:  orderQuantity,
		Side:      SideBuy,
		Timestamp: uint64(h.clock.Now().UnixNano()),
	}
	clOrdID := fmt.Sprintf("ORD%d", o.Timestamp)
	copy(o.ClOrdID[:], clOrdID)

	return mustMarshal(o), nil
}

func mustMarshal(o Order) []byte {
	b, _ := o.MarshalBinary()
	return b
}
