package models

import (
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Money is a fixed-point monetary amount stored in MongoDB as Decimal128.
// All payout arithmetic goes through this type so amounts never touch
// binary floating point.
type Money struct {
	decimal.Decimal
}

// NewMoney creates a Money from a decimal value.
func NewMoney(d decimal.Decimal) Money {
	return Money{d}
}

// NewMoneyFromString parses a decimal string like "750.00".
func NewMoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{d}, nil
}

// ZeroMoney returns a zero amount.
func ZeroMoney() Money {
	return Money{decimal.Zero}
}

// MarshalBSONValue stores the amount as a Decimal128.
func (m Money) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d128, err := primitive.ParseDecimal128(m.Decimal.String())
	if err != nil {
		return 0, nil, err
	}
	return bson.MarshalValue(d128)
}

// UnmarshalBSONValue reads the amount back from a Decimal128.
func (m *Money) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var d128 primitive.Decimal128
	if err := bson.UnmarshalValue(t, data, &d128); err != nil {
		return err
	}
	d, err := decimal.NewFromString(d128.String())
	if err != nil {
		return err
	}
	m.Decimal = d
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{m.Decimal.Add(other.Decimal)}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return Money{m.Decimal.Sub(other.Decimal)}
}

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool {
	return m.Decimal.IsPositive()
}
