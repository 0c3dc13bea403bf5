package book

import "errors"

var (
	// ErrOrderNotFound is returned when a cancel, specific purchase or
	// finalize target does not exist at the given price/identity.
	ErrOrderNotFound = errors.New("book: order not found")

	// ErrOwnerMismatch is returned when a cancel is attempted by an address
	// that does not own the order. Only the owner may cancel.
	ErrOwnerMismatch = errors.New("book: caller does not own this order")

	// ErrCollectionMismatch is returned when an authorization's vault or an
	// item's collection does not match the book's pair or the supplied vault.
	ErrCollectionMismatch = errors.New("book: collection/vault mismatch")

	// ErrItemMismatch is returned when a finalize or claim names a vault
	// holding a different item than the trade's authorization.
	ErrItemMismatch = errors.New("book: item identity mismatch")

	// ErrActionNotPublic is returned when the access gate rejects a call on
	// the open entry surface. The capability-gated surface is unaffected.
	ErrActionNotPublic = errors.New("book: action disabled on the public surface")

	// ErrBookCapMismatch is returned when a privileged call presents a
	// capability for a different book.
	ErrBookCapMismatch = errors.New("book: capability does not control this book")
)
