package engine

// OrderStatus represents order state
type OrderStatus string

const (
	ACTIVE           OrderStatus = "ACTIVE"
	PARTIALLY_FILLED OrderStatus = "PARTIALLY_FILLED"
	FILLED           OrderStatus = "FILLED"
	CANCELLED        OrderStatus = "CANCELLED"
)

// legalTransitions lists every status change an order may make.
// FILLED and CANCELLED are terminal.
var legalTransitions = map[OrderStatus][]OrderStatus{
	ACTIVE:           {PARTIALLY_FILLED, FILLED, CANCELLED},
	PARTIALLY_FILLED: {PARTIALLY_FILLED, FILLED, CANCELLED},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, to := range legalTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether an order in this status may still trade or be cancelled.
func (s OrderStatus) IsOpen() bool {
	return s == ACTIVE || s == PARTIALLY_FILLED
}

// IsTerminal reports whether the status can never change again.
func (s OrderStatus) IsTerminal() bool {
	return s == FILLED || s == CANCELLED
}

func (o *Order) setStatus(next OrderStatus) {
	if !o.Status.CanTransitionTo(next) {
		panic(invariantf("order %s: illegal status transition %s -> %s", o.ID, o.Status, next))
	}
	o.Status = next
}
