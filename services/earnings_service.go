package services

import (
	"context"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marketora/payout_backend/models"
)

// SellerSource provides the seller's accumulated gross earnings.
type SellerSource interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Seller, error)
}

// PayoutHistorySource provides the total already disbursed to a seller.
type PayoutHistorySource interface {
	SumCompletedForSeller(ctx context.Context, sellerID primitive.ObjectID) (models.Money, error)
}

// CommissionSource provides the current platform commission settings.
type CommissionSource interface {
	Current(ctx context.Context) (*models.CommissionSettings, error)
}

// EarningsService computes the payable amount for a new payout request:
//
//	amount = totalEarnings - platformFee - previousPayouts
//	platformFee = totalEarnings * platformFeePercentage / 100
//
// The fee is rounded half up to two decimal places. The computation runs
// exactly once, at request creation; nothing ever rebalances the amount
// afterwards.
type EarningsService struct {
	sellers  SellerSource
	history  PayoutHistorySource
	settings CommissionSource
}

func NewEarningsService(sellers SellerSource, history PayoutHistorySource, settings CommissionSource) *EarningsService {
	return &EarningsService{sellers: sellers, history: history, settings: settings}
}

var oneHundred = decimal.NewFromInt(100)

// ComputePlatformFee applies the commission percentage to gross earnings,
// rounding half up to the currency's two decimal places.
func ComputePlatformFee(totalEarnings models.Money, feePercentage float64) models.Money {
	pct := decimal.NewFromFloat(feePercentage)
	fee := totalEarnings.Decimal.Mul(pct).Div(oneHundred).Round(2)
	return models.NewMoney(fee)
}

// BuildSnapshot assembles the immutable earnings snapshot and the payable
// amount for a seller. It fails with InsufficientEarningsError when nothing
// is payable, and with ValidationError when the amount falls outside the
// configured payout bounds.
func (s *EarningsService) BuildSnapshot(ctx context.Context, sellerID primitive.ObjectID) (models.EarningsSnapshot, models.Money, error) {
	var snapshot models.EarningsSnapshot

	seller, err := s.sellers.FindByID(ctx, sellerID)
	if err != nil {
		return snapshot, models.ZeroMoney(), err
	}

	previousPayouts, err := s.history.SumCompletedForSeller(ctx, sellerID)
	if err != nil {
		return snapshot, models.ZeroMoney(), err
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return snapshot, models.ZeroMoney(), err
	}

	fee := ComputePlatformFee(seller.TotalEarnings, settings.PlatformFeePercentage)
	amount := seller.TotalEarnings.Sub(fee).Sub(previousPayouts)

	if !amount.IsPositive() {
		return snapshot, models.ZeroMoney(), &models.InsufficientEarningsError{Amount: amount}
	}
	if settings.MinPayoutAmount.IsPositive() && amount.Decimal.LessThan(settings.MinPayoutAmount.Decimal) {
		return snapshot, models.ZeroMoney(), &models.ValidationError{
			Field:  "amount",
			Reason: "payable amount is below the minimum payout of " + settings.MinPayoutAmount.String(),
		}
	}
	if settings.MaxPayoutAmount.IsPositive() && amount.Decimal.GreaterThan(settings.MaxPayoutAmount.Decimal) {
		return snapshot, models.ZeroMoney(), &models.ValidationError{
			Field:  "amount",
			Reason: "payable amount exceeds the maximum payout of " + settings.MaxPayoutAmount.String(),
		}
	}

	snapshot = models.EarningsSnapshot{
		TotalEarnings:         seller.TotalEarnings,
		PlatformFee:           fee,
		PlatformFeePercentage: settings.PlatformFeePercentage,
		PreviousPayouts:       previousPayouts,
	}
	return snapshot, amount, nil
}
