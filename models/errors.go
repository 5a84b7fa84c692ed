package models

import "fmt"

// ValidationError reports malformed or missing input. No state change has
// happened when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IllegalTransitionError reports an action that is not legal for the payout
// request's current status, including stale reads where the status changed
// between load and commit.
type IllegalTransitionError struct {
	Status PayoutStatus
	Action PayoutAction
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("action %q is not allowed while payout is %q", e.Action, e.Status)
}

// InsufficientEarningsError refuses payout creation when the payable amount
// computed from the seller's earnings is not positive.
type InsufficientEarningsError struct {
	Amount Money
}

func (e *InsufficientEarningsError) Error() string {
	return fmt.Sprintf("payable amount %s is not positive", e.Amount.String())
}

// OpenRequestExistsError refuses a second payout request while the seller
// already has one that is not yet terminal.
type OpenRequestExistsError struct {
	SellerID string
}

func (e *OpenRequestExistsError) Error() string {
	return "seller already has an open payout request"
}

// NotFoundError reports an unknown record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// AuthorizationError reports a caller lacking the privilege for an operation.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}

// ImmutableFieldError reports an attempt to change a field that is fixed at
// creation time.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %q cannot be changed after creation", e.Field)
}
