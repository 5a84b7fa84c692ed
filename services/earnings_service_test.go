package services

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marketora/payout_backend/models"
)

type stubSellers struct {
	seller *models.Seller
}

func (s *stubSellers) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Seller, error) {
	if s.seller == nil {
		return nil, &models.NotFoundError{Resource: "seller", ID: id.Hex()}
	}
	return s.seller, nil
}

type stubHistory struct {
	total models.Money
}

func (s *stubHistory) SumCompletedForSeller(ctx context.Context, sellerID primitive.ObjectID) (models.Money, error) {
	return s.total, nil
}

type stubSettings struct {
	settings *models.CommissionSettings
}

func (s *stubSettings) Current(ctx context.Context) (*models.CommissionSettings, error) {
	return s.settings, nil
}

func money(t *testing.T, s string) models.Money {
	t.Helper()
	m, err := models.NewMoneyFromString(s)
	if err != nil {
		t.Fatalf("parse money %q: %v", s, err)
	}
	return m
}

func newTestService(t *testing.T, earnings, previous string, feePct float64, min, max string) *EarningsService {
	t.Helper()
	return NewEarningsService(
		&stubSellers{seller: &models.Seller{
			ID:            primitive.NewObjectID(),
			FullName:      "Ali Hassan",
			TotalEarnings: money(t, earnings),
		}},
		&stubHistory{total: money(t, previous)},
		&stubSettings{settings: &models.CommissionSettings{
			PlatformFeePercentage: feePct,
			MinPayoutAmount:       money(t, min),
			MaxPayoutAmount:       money(t, max),
		}},
	)
}

func TestComputePlatformFee(t *testing.T) {
	tests := []struct {
		earnings string
		pct      float64
		want     string
	}{
		{"1000.00", 5, "50"},
		{"500.00", 10, "50"},
		{"333.33", 10, "33.33"},
		{"1.25", 10, "0.13"}, // rounds half up
		{"1000.00", 0, "0"},
	}

	for _, tt := range tests {
		got := ComputePlatformFee(money(t, tt.earnings), tt.pct)
		if got.String() != tt.want {
			t.Errorf("ComputePlatformFee(%s, %v) = %s, want %s", tt.earnings, tt.pct, got.String(), tt.want)
		}
	}
}

func TestBuildSnapshot(t *testing.T) {
	svc := newTestService(t, "1000.00", "200.00", 5, "0", "0")

	snapshot, amount, err := svc.BuildSnapshot(context.Background(), primitive.NewObjectID())
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}

	if amount.String() != "750" {
		t.Errorf("amount = %s, want 750", amount.String())
	}
	if snapshot.TotalEarnings.String() != "1000" {
		t.Errorf("totalEarnings = %s", snapshot.TotalEarnings.String())
	}
	if snapshot.PlatformFee.String() != "50" {
		t.Errorf("platformFee = %s", snapshot.PlatformFee.String())
	}
	if snapshot.PlatformFeePercentage != 5 {
		t.Errorf("platformFeePercentage = %v", snapshot.PlatformFeePercentage)
	}
	if snapshot.PreviousPayouts.String() != "200" {
		t.Errorf("previousPayouts = %s", snapshot.PreviousPayouts.String())
	}

	// The snapshot must reconcile to the amount it was built with
	expected := snapshot.TotalEarnings.Sub(snapshot.PlatformFee).Sub(snapshot.PreviousPayouts)
	if !expected.Decimal.Equal(amount.Decimal) {
		t.Errorf("snapshot does not reconcile: %s != %s", expected.String(), amount.String())
	}
}

func TestBuildSnapshotNothingPayable(t *testing.T) {
	// 100 earned, 10 fee, 95 already paid out
	svc := newTestService(t, "100.00", "95.00", 10, "0", "0")

	_, _, err := svc.BuildSnapshot(context.Background(), primitive.NewObjectID())
	if err == nil {
		t.Fatal("negative payable amount accepted")
	}
	var earningsErr *models.InsufficientEarningsError
	if !errors.As(err, &earningsErr) {
		t.Errorf("error type = %T, want *InsufficientEarningsError", err)
	}

	// Exactly zero is also not payable
	svc = newTestService(t, "100.00", "90.00", 10, "0", "0")
	if _, _, err := svc.BuildSnapshot(context.Background(), primitive.NewObjectID()); err == nil {
		t.Error("zero payable amount accepted")
	}
}

func TestBuildSnapshotPayoutBounds(t *testing.T) {
	// Payable 450, minimum 500
	svc := newTestService(t, "500.00", "0.00", 10, "500.00", "0")
	_, _, err := svc.BuildSnapshot(context.Background(), primitive.NewObjectID())
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("below minimum: error = %v, want *ValidationError", err)
	}

	// Payable 4500, maximum 1000
	svc = newTestService(t, "5000.00", "0.00", 10, "0", "1000.00")
	_, _, err = svc.BuildSnapshot(context.Background(), primitive.NewObjectID())
	if !errors.As(err, &validationErr) {
		t.Errorf("above maximum: error = %v, want *ValidationError", err)
	}

	// Bounds at zero mean unbounded
	svc = newTestService(t, "5000.00", "0.00", 10, "0", "0")
	if _, _, err := svc.BuildSnapshot(context.Background(), primitive.NewObjectID()); err != nil {
		t.Errorf("unbounded settings rejected payout: %v", err)
	}
}

func TestBuildSnapshotUnknownSeller(t *testing.T) {
	svc := NewEarningsService(&stubSellers{}, &stubHistory{}, &stubSettings{settings: &models.CommissionSettings{}})

	_, _, err := svc.BuildSnapshot(context.Background(), primitive.NewObjectID())
	var notFoundErr *models.NotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Errorf("error type = %T, want *NotFoundError", err)
	}
}
