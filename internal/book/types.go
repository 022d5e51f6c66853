package book

// Side is buy or sell.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// OrderType is one of the four order types the book understands.
type OrderType int8

const (
	Limit OrderType = iota
	Market
	IOC
	PostOnly
)

// Status is the resting/terminal lifecycle state of an order.
type Status int8

const (
	StatusOpen Status = iota
	StatusPartial
	StatusFilled
	StatusCancelled
	StatusRejected
)

// Order is owned exclusively by the book while resting. Prices
// and quantities are fixed-point integers: price in ticks, quantity in
// lots.
type Order struct {
	ID            int64
	Symbol        string
	UserID        string
	Side          Side
	Type          OrderType
	Price         int64 // 0 for Market
	OrigQty       int64
	RemainingQty  int64
	CreatedAt     int64 // logical timestamp from clock.Clock
	Status        Status
	Liquidation   bool // forced close routed through SubmitLiquidation, bypasses margin check
}

// IsTerminal reports whether the order can no longer be matched or cancelled.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Trade is an append-only fill record.
type Trade struct {
	ID          int64
	Symbol      string
	Price       int64
	Qty         int64
	MakerOrderID int64
	TakerOrderID int64
	MakerUserID  string
	TakerUserID  string
	TakerSide    Side
	Timestamp    int64
}

// PriceLevel is one aggregated row of depth output.
type PriceLevel struct {
	Price int64
	Qty   int64
}

// CancelNotice is emitted when the book cancels a resting maker on its own
// initiative (self-trade prevention), distinct from a user-requested cancel.
type CancelNotice struct {
	OrderID int64
	UserID  string
	Reason  string
}
