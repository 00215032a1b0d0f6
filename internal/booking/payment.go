package booking

import (
	"context"
	"errors"

	"github.com/transitware/seat-allocation/internal/model"
)

// ReferenceResolver is the default PaymentResolver.  Channels settle
// payment out of band (cash at the park, POS at the agent desk) and
// pass the settlement reference with the confirm call; the resolver
// only checks that a reference is present.  A real gateway integration
// replaces this implementation behind the same interface.
type ReferenceResolver struct{}

// Resolve accepts any non-empty payment reference.
func (ReferenceResolver) Resolve(_ context.Context, _ model.Booking, paymentRef string) error {
	if paymentRef == "" {
		return errors.New("missing payment reference")
	}
	return nil
}
