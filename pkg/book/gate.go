package book

import "fmt"

// Action enumerates the gate-able entry categories. A closed enumeration is
// deliberate: no dynamic dispatch, one boolean per category.
type Action uint8

const (
	ActionPlaceBid Action = iota
	ActionCancelBid
	ActionPlaceAsk
	ActionCancelAsk
	ActionBuySpecific
)

func (a Action) String() string {
	switch a {
	case ActionPlaceBid:
		return "place_bid"
	case ActionCancelBid:
		return "cancel_bid"
	case ActionPlaceAsk:
		return "place_ask"
	case ActionCancelAsk:
		return "cancel_ask"
	case ActionBuySpecific:
		return "buy_specific"
	default:
		return "unknown"
	}
}

// Gate is the per-operation public/privileged switch, checked at the top of
// every open entry point. Privileged (capability-holding) callers bypass it.
type Gate struct {
	PlaceBid    bool `json:"place_bid"`
	CancelBid   bool `json:"cancel_bid"`
	PlaceAsk    bool `json:"place_ask"`
	CancelAsk   bool `json:"cancel_ask"`
	BuySpecific bool `json:"buy_specific"`
}

// OpenGate permits every action on the public surface.
func OpenGate() Gate {
	return Gate{PlaceBid: true, CancelBid: true, PlaceAsk: true, CancelAsk: true, BuySpecific: true}
}

// permits reports whether the action is open to the public surface.
func (g Gate) permits(a Action) bool {
	switch a {
	case ActionPlaceBid:
		return g.PlaceBid
	case ActionCancelBid:
		return g.CancelBid
	case ActionPlaceAsk:
		return g.PlaceAsk
	case ActionCancelAsk:
		return g.CancelAsk
	case ActionBuySpecific:
		return g.BuySpecific
	default:
		return false
	}
}

// set flips one action's public availability.
func (g *Gate) set(a Action, public bool) error {
	switch a {
	case ActionPlaceBid:
		g.PlaceBid = public
	case ActionCancelBid:
		g.CancelBid = public
	case ActionPlaceAsk:
		g.PlaceAsk = public
	case ActionCancelAsk:
		g.CancelAsk = public
	case ActionBuySpecific:
		g.BuySpecific = public
	default:
		return fmt.Errorf("book: unknown action %d", a)
	}
	return nil
}
