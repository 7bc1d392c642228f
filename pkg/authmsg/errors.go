package authmsg

import (
	"errors"
	"fmt"
)

// ErrInvalidSignature covers malformed signatures, failed recoveries, zero
// recovered addresses and signer mismatches. Wrapping errors carry the detail.
var ErrInvalidSignature = errors.New("invalid signature")

// SignatureExpiredError is returned when a message's deadline has passed. It
// carries both the deadline and the observed time so callers can react
// programmatically.
type SignatureExpiredError struct {
	Deadline uint64
	Now      uint64
}

func (e *SignatureExpiredError) Error() string {
	return fmt.Sprintf("signature expired: deadline %d, now %d", e.Deadline, e.Now)
}
