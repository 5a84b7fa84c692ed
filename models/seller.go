package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Seller is the owner of payout requests. TotalEarnings is the gross amount
// accumulated from sales, maintained by the marketplace's order pipeline;
// this service only reads it.
type Seller struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName      string             `bson:"fullName" json:"fullName"`
	Email         string             `bson:"email" json:"email"`
	Phone         string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Password      string             `bson:"password" json:"-"`
	StoreName     string             `bson:"storeName,omitempty" json:"storeName,omitempty"`
	TotalEarnings Money              `bson:"totalEarnings" json:"totalEarnings"`
	FCMToken      string             `bson:"fcmToken,omitempty" json:"-"`
	IsActive      bool               `bson:"isActive" json:"isActive"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updatedAt"`
}
