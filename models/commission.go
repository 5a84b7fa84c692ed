package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CommissionSettings holds the platform's current commission configuration.
// A single document in the commission_settings collection; the newest one
// wins. Payout bounds are optional, zero means unbounded.
type CommissionSettings struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PlatformFeePercentage float64            `bson:"platformFeePercentage" json:"platformFeePercentage"`
	MinPayoutAmount       Money              `bson:"minPayoutAmount" json:"minPayoutAmount"`
	MaxPayoutAmount       Money              `bson:"maxPayoutAmount" json:"maxPayoutAmount"`
	UpdatedBy             primitive.ObjectID `bson:"updatedBy,omitempty" json:"updatedBy,omitempty"`
	UpdatedAt             time.Time          `bson:"updatedAt" json:"updatedAt"`
}
