package book

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/openlob/itembook/pkg/custody"
	"github.com/openlob/itembook/pkg/settle"
)

// DeferredTrade is the persisted continuation for a match whose counterpart
// vault was not addressable from the matching call (the bid-taker path).
// Any party may later supply the vault reference to complete settlement;
// the record has no expiry and persists until finalized.
//
// The authorization and receipt are moved out of the record exactly once by
// a successful finalize, so a second finalize cannot execute meaningfully.
type DeferredTrade struct {
	ID common.Hash

	auth    *custody.TransferAuth
	receipt *settle.Receipt

	// Payment is the full bid escrow captured at match time. Proceeds are
	// split over AskPrice; the excess is refunded to the buyer at finalize.
	Payment  uint64
	AskPrice uint64

	Buyer  common.Address
	Seller common.Address

	// Commission is the matched ask's pending commission, applied to the
	// proceeds split at finalize.
	Commission *settle.Commission
}

func newDeferredTrade(auth *custody.TransferAuth, receipt *settle.Receipt, payment, askPrice uint64, buyer, seller common.Address, commission *settle.Commission) *DeferredTrade {
	return &DeferredTrade{
		ID:         custody.DeriveID("itembook/deferred", buyer.Bytes(), auth.ItemID().Bytes()),
		auth:       auth,
		receipt:    receipt,
		Payment:    payment,
		AskPrice:   askPrice,
		Buyer:      buyer,
		Seller:     seller,
		Commission: commission,
	}
}

// ItemID returns the identity of the item awaiting release.
func (d *DeferredTrade) ItemID() custody.ItemID { return d.auth.ItemID() }

// VaultID returns the vault the finalize call must supply.
func (d *DeferredTrade) VaultID() custody.VaultID { return d.auth.VaultID() }
