package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Admin struct {
	ID        primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	Email     string             `json:"email" bson:"email"`
	FullName  string             `json:"fullName" bson:"fullName"`
	Password  string             `json:"-" bson:"password"`
	Role      string             `json:"role" bson:"role"` // "admin" or "super_admin"
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// PayoutStatusStat is one bucket of the aggregate stats endpoint: how many
// requests sit in a status and how much money they represent. Advisory only.
type PayoutStatusStat struct {
	Status      PayoutStatus `bson:"_id" json:"status"`
	Count       int64        `bson:"count" json:"count"`
	TotalAmount Money        `bson:"totalAmount" json:"totalAmount"`
}

// PayoutFilter collects the list endpoint's query parameters.
type PayoutFilter struct {
	Status   string
	Priority string
	SellerID string
	From     time.Time
	To       time.Time
	Search   string
	Page     int64
	Limit    int64
}
