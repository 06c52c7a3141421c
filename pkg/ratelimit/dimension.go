package ratelimit

// Dimension identifies one quota dimension a venue enforces.
type Dimension int

// Quota dimensions. Weight and raw-request counts govern REST traffic;
// order counts come in the short/medium/long horizons most venues
// document (e.g. 10s / 1m / 1d); the streaming dimensions govern
// subscribe commands, active subscriptions and connection attempts.
const (
	DimensionWeight Dimension = iota
	DimensionRawRequests
	DimensionOrdersShort
	DimensionOrdersMedium
	DimensionOrdersLong
	DimensionMessages
	DimensionSubscriptions
	DimensionConnections
)

// String returns the string representation of the dimension.
func (d Dimension) String() string {
	return [...]string{
		"weight",
		"raw_requests",
		"orders_short",
		"orders_medium",
		"orders_long",
		"messages",
		"subscriptions",
		"connections",
	}[d]
}

// Cost maps each dimension a request consumes to the amount consumed.
// A plain GET might cost {Weight: 2, RawRequests: 1}; an order placement
// additionally costs one unit on every order-count horizon.
type Cost map[Dimension]int64
