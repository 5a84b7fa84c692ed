package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PayoutStatus is the lifecycle state of a payout request.
type PayoutStatus string

const (
	PayoutStatusPending     PayoutStatus = "pending"
	PayoutStatusUnderReview PayoutStatus = "under_review"
	PayoutStatusApproved    PayoutStatus = "approved"
	PayoutStatusProcessing  PayoutStatus = "processing"
	PayoutStatusCompleted   PayoutStatus = "completed"
	PayoutStatusRejected    PayoutStatus = "rejected"
	PayoutStatusCancelled   PayoutStatus = "cancelled"
)

// IsValidPayoutStatus checks a status string coming from a query parameter.
func IsValidPayoutStatus(status string) bool {
	switch PayoutStatus(status) {
	case PayoutStatusPending, PayoutStatusUnderReview, PayoutStatusApproved,
		PayoutStatusProcessing, PayoutStatusCompleted, PayoutStatusRejected,
		PayoutStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusRejected || s == PayoutStatusCancelled
}

// Label returns the display label for the status.
func (s PayoutStatus) Label() string {
	switch s {
	case PayoutStatusPending:
		return "Pending Review"
	case PayoutStatusUnderReview:
		return "Under Review"
	case PayoutStatusApproved:
		return "Approved"
	case PayoutStatusProcessing:
		return "Processing"
	case PayoutStatusCompleted:
		return "Completed"
	case PayoutStatusRejected:
		return "Rejected"
	case PayoutStatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// PayoutAction is an admin operation against a payout request.
type PayoutAction string

const (
	PayoutActionReview   PayoutAction = "review"
	PayoutActionApprove  PayoutAction = "approve"
	PayoutActionReject   PayoutAction = "reject"
	PayoutActionProcess  PayoutAction = "process"
	PayoutActionComplete PayoutAction = "complete"
	PayoutActionCancel   PayoutAction = "cancel"
)

// Payout priorities. Advisory only, they never affect which transitions
// are legal.
const (
	PayoutPriorityNormal = "normal"
	PayoutPriorityHigh   = "high"
	PayoutPriorityUrgent = "urgent"
)

// Payment method types supported for disbursement.
const (
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodPaypal       = "paypal"
	PaymentMethodWhish        = "whish"
)

// BankDetails holds the destination account for a bank transfer payout.
type BankDetails struct {
	AccountName   string `bson:"accountName" json:"accountName"`
	AccountNumber string `bson:"accountNumber" json:"accountNumber"`
	BankName      string `bson:"bankName" json:"bankName"`
	IBAN          string `bson:"iban,omitempty" json:"iban,omitempty"`
	SwiftCode     string `bson:"swiftCode,omitempty" json:"swiftCode,omitempty"`
}

// PaymentMethod is a tagged variant: exactly the detail block matching Type
// may be set. Validate enforces the match so a bank transfer request cannot
// sneak in PayPal-only fields.
type PaymentMethod struct {
	Type        string       `bson:"type" json:"type"`
	BankDetails *BankDetails `bson:"bankDetails,omitempty" json:"bankDetails,omitempty"`
	PaypalEmail string       `bson:"paypalEmail,omitempty" json:"paypalEmail,omitempty"`
	WhishPhone  string       `bson:"whishPhone,omitempty" json:"whishPhone,omitempty"`
}

// Validate checks the variant is well-formed for its tag.
func (pm *PaymentMethod) Validate() error {
	switch pm.Type {
	case PaymentMethodBankTransfer:
		if pm.BankDetails == nil || pm.BankDetails.AccountNumber == "" {
			return &ValidationError{Field: "paymentMethod", Reason: "bank transfer requires an account number"}
		}
		if pm.PaypalEmail != "" || pm.WhishPhone != "" {
			return &ValidationError{Field: "paymentMethod", Reason: "bank transfer must not carry paypal or whish fields"}
		}
	case PaymentMethodPaypal:
		if pm.PaypalEmail == "" {
			return &ValidationError{Field: "paymentMethod", Reason: "paypal requires a payout email"}
		}
		if pm.BankDetails != nil || pm.WhishPhone != "" {
			return &ValidationError{Field: "paymentMethod", Reason: "paypal must not carry bank or whish fields"}
		}
	case PaymentMethodWhish:
		if pm.WhishPhone == "" {
			return &ValidationError{Field: "paymentMethod", Reason: "whish requires a phone number"}
		}
		if pm.BankDetails != nil || pm.PaypalEmail != "" {
			return &ValidationError{Field: "paymentMethod", Reason: "whish must not carry bank or paypal fields"}
		}
	default:
		return &ValidationError{Field: "paymentMethod", Reason: "unknown payment method type"}
	}
	return nil
}

// EarningsSnapshot is the financial breakdown captured when the request is
// created. It never changes afterwards; the requested amount must equal
// totalEarnings - platformFee - previousPayouts at creation time.
type EarningsSnapshot struct {
	TotalEarnings         Money   `bson:"totalEarnings" json:"totalEarnings"`
	PlatformFee           Money   `bson:"platformFee" json:"platformFee"`
	PlatformFeePercentage float64 `bson:"platformFeePercentage" json:"platformFeePercentage"`
	PreviousPayouts       Money   `bson:"previousPayouts" json:"previousPayouts"`
}

// PayoutTransaction records the external disbursement once processing begins.
type PayoutTransaction struct {
	TransactionID   string     `bson:"transactionId,omitempty" json:"transactionId,omitempty"`
	ReferenceNumber string     `bson:"referenceNumber,omitempty" json:"referenceNumber,omitempty"`
	ReceiptURL      string     `bson:"receiptUrl,omitempty" json:"receiptUrl,omitempty"`
	ConfirmedAt     *time.Time `bson:"confirmedAt,omitempty" json:"confirmedAt,omitempty"`
}

// PayoutRequest is a seller's request to withdraw accumulated, fee-adjusted
// earnings. Amount, earnings, sellerId and paymentMethod are fixed at
// creation; status only moves through the transition table below.
type PayoutRequest struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	RequestNumber   string              `bson:"requestNumber" json:"requestNumber"`
	SellerID        primitive.ObjectID  `bson:"sellerId" json:"sellerId"`
	Amount          Money               `bson:"amount" json:"amount"`
	Earnings        EarningsSnapshot    `bson:"earnings" json:"earnings"`
	Status          PayoutStatus        `bson:"status" json:"status"`
	Priority        string              `bson:"priority" json:"priority"`
	PaymentMethod   PaymentMethod       `bson:"paymentMethod" json:"paymentMethod"`
	AdminNotes      string              `bson:"adminNotes,omitempty" json:"adminNotes,omitempty"`
	RejectionReason string              `bson:"rejectionReason,omitempty" json:"rejectionReason,omitempty"`
	Transaction     *PayoutTransaction  `bson:"transaction,omitempty" json:"transaction,omitempty"`
	CreatedAt       time.Time           `bson:"createdAt" json:"createdAt"`
	ReviewedAt      *time.Time          `bson:"reviewedAt,omitempty" json:"reviewedAt,omitempty"`
	ReviewedBy      *primitive.ObjectID `bson:"reviewedBy,omitempty" json:"reviewedBy,omitempty"`
	ApprovedAt      *time.Time          `bson:"approvedAt,omitempty" json:"approvedAt,omitempty"`
	ApprovedBy      *primitive.ObjectID `bson:"approvedBy,omitempty" json:"approvedBy,omitempty"`
}

// reconciliationTolerance is one minor unit of the currency.
var reconciliationTolerance = decimal.NewFromFloat(0.01)

// NewPayoutRequest builds a pending request and checks the creation-time
// invariants: positive amount, well-formed payment method, and the earnings
// snapshot reconciling to the requested amount within one minor unit.
func NewPayoutRequest(sellerID primitive.ObjectID, amount Money, earnings EarningsSnapshot, method PaymentMethod, priority string, now time.Time) (*PayoutRequest, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if err := method.Validate(); err != nil {
		return nil, err
	}
	if priority == "" {
		priority = PayoutPriorityNormal
	}
	if priority != PayoutPriorityNormal && priority != PayoutPriorityHigh && priority != PayoutPriorityUrgent {
		return nil, &ValidationError{Field: "priority", Reason: "must be normal, high or urgent"}
	}
	expected := earnings.TotalEarnings.Sub(earnings.PlatformFee).Sub(earnings.PreviousPayouts)
	if expected.Decimal.Sub(amount.Decimal).Abs().GreaterThan(reconciliationTolerance) {
		return nil, &ValidationError{Field: "amount", Reason: "does not reconcile with the earnings snapshot"}
	}
	return &PayoutRequest{
		SellerID:      sellerID,
		Amount:        amount,
		Earnings:      earnings,
		Status:        PayoutStatusPending,
		Priority:      priority,
		PaymentMethod: method,
		CreatedAt:     now,
	}, nil
}

// ActionInput carries the action-specific fields an admin submits with a
// transition.
type ActionInput struct {
	AdminNotes      string `json:"adminNotes,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
	TransactionID   string `json:"transactionId,omitempty"`
	ReferenceNumber string `json:"referenceNumber,omitempty"`
	ReceiptURL      string `json:"receiptUrl,omitempty"`
}

// payoutTransitions is the single source of truth for which action is legal
// from which status, and where it leads.
var payoutTransitions = map[PayoutStatus]map[PayoutAction]PayoutStatus{
	PayoutStatusPending: {
		PayoutActionReview:  PayoutStatusUnderReview,
		PayoutActionApprove: PayoutStatusApproved,
		PayoutActionReject:  PayoutStatusRejected,
		PayoutActionCancel:  PayoutStatusCancelled,
	},
	PayoutStatusUnderReview: {
		PayoutActionApprove: PayoutStatusApproved,
		PayoutActionReject:  PayoutStatusRejected,
		PayoutActionCancel:  PayoutStatusCancelled,
	},
	PayoutStatusApproved: {
		PayoutActionProcess: PayoutStatusProcessing,
	},
	PayoutStatusProcessing: {
		PayoutActionComplete: PayoutStatusCompleted,
	},
}

// NextStatus returns the target status for an action from the given status,
// or false when the pair is not in the transition table.
func NextStatus(from PayoutStatus, action PayoutAction) (PayoutStatus, bool) {
	next, ok := payoutTransitions[from][action]
	return next, ok
}

// LegalActions lists the actions currently available for a status, for the
// admin detail view.
func LegalActions(from PayoutStatus) []PayoutAction {
	var actions []PayoutAction
	for _, a := range []PayoutAction{PayoutActionReview, PayoutActionApprove, PayoutActionReject, PayoutActionProcess, PayoutActionComplete, PayoutActionCancel} {
		if _, ok := payoutTransitions[from][a]; ok {
			actions = append(actions, a)
		}
	}
	return actions
}

// ApplyAction validates an admin action against the request's current status
// and, when legal, mutates the request in place and returns the field updates
// to persist. Validation failures happen before any mutation, so a returned
// error always leaves the request untouched.
func (p *PayoutRequest) ApplyAction(action PayoutAction, input ActionInput, actorID primitive.ObjectID, now time.Time) (bson.M, error) {
	next, ok := NextStatus(p.Status, action)
	if !ok {
		return nil, &IllegalTransitionError{Status: p.Status, Action: action}
	}

	if action == PayoutActionReject && strings.TrimSpace(input.RejectionReason) == "" {
		return nil, &ValidationError{Field: "rejectionReason", Reason: "required when rejecting a payout request"}
	}

	set := bson.M{"status": next}
	p.Status = next

	if input.AdminNotes != "" {
		p.AdminNotes = input.AdminNotes
		set["adminNotes"] = input.AdminNotes
	}

	switch action {
	case PayoutActionReview:
		p.ReviewedAt = &now
		p.ReviewedBy = &actorID
		set["reviewedAt"] = now
		set["reviewedBy"] = actorID
	case PayoutActionApprove:
		p.ApprovedAt = &now
		p.ApprovedBy = &actorID
		set["approvedAt"] = now
		set["approvedBy"] = actorID
	case PayoutActionReject:
		p.RejectionReason = input.RejectionReason
		set["rejectionReason"] = input.RejectionReason
	case PayoutActionProcess:
		tx := &PayoutTransaction{
			TransactionID:   input.TransactionID,
			ReferenceNumber: input.ReferenceNumber,
		}
		p.Transaction = tx
		set["transaction"] = tx
	case PayoutActionComplete:
		tx := p.Transaction
		if tx == nil {
			tx = &PayoutTransaction{}
		}
		if input.TransactionID != "" {
			tx.TransactionID = input.TransactionID
		}
		if input.ReferenceNumber != "" {
			tx.ReferenceNumber = input.ReferenceNumber
		}
		if input.ReceiptURL != "" {
			tx.ReceiptURL = input.ReceiptURL
		}
		tx.ConfirmedAt = &now
		p.Transaction = tx
		set["transaction"] = tx
	case PayoutActionCancel:
		// No side fields beyond the optional admin note.
	}

	return set, nil
}
