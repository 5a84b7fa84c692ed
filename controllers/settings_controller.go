package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marketora/payout_backend/middleware"
	"github.com/marketora/payout_backend/models"
	"github.com/marketora/payout_backend/repositories"
)

// SettingsController manages the platform commission settings consumed by
// the earnings reconciliation.
type SettingsController struct {
	settings *repositories.SettingsRepository
}

func NewSettingsController(settings *repositories.SettingsRepository) *SettingsController {
	return &SettingsController{settings: settings}
}

// UpdateCommissionSettingsRequest carries the new commission configuration.
// Amounts are decimal strings to keep them off binary floats.
type UpdateCommissionSettingsRequest struct {
	PlatformFeePercentage float64 `json:"platformFeePercentage" validate:"gte=0,lte=100"`
	MinPayoutAmount       string  `json:"minPayoutAmount,omitempty"`
	MaxPayoutAmount       string  `json:"maxPayoutAmount,omitempty"`
}

// GetCommissionSettings returns the currently effective settings.
func (sc *SettingsController) GetCommissionSettings(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	settings, err := sc.settings.Current(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to retrieve commission settings",
		})
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission settings retrieved successfully",
		Data:    settings,
	})
}

// UpdateCommissionSettings saves a new settings snapshot. Admin only,
// enforced by route middleware.
func (sc *SettingsController) UpdateCommissionSettings(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil {
		return c.JSON(http.StatusUnauthorized, models.Response{
			Status:  http.StatusUnauthorized,
			Message: "Authentication required",
		})
	}
	adminID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid admin ID",
		})
	}

	var req UpdateCommissionSettingsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Platform fee percentage must be between 0 and 100",
		})
	}

	settings := models.CommissionSettings{
		PlatformFeePercentage: req.PlatformFeePercentage,
		MinPayoutAmount:       models.ZeroMoney(),
		MaxPayoutAmount:       models.ZeroMoney(),
	}

	if req.MinPayoutAmount != "" {
		min, err := models.NewMoneyFromString(req.MinPayoutAmount)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.Response{
				Status:  http.StatusBadRequest,
				Message: "Invalid minimum payout amount",
			})
		}
		settings.MinPayoutAmount = min
	}
	if req.MaxPayoutAmount != "" {
		max, err := models.NewMoneyFromString(req.MaxPayoutAmount)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.Response{
				Status:  http.StatusBadRequest,
				Message: "Invalid maximum payout amount",
			})
		}
		settings.MaxPayoutAmount = max
	}

	if settings.MaxPayoutAmount.IsPositive() && settings.MinPayoutAmount.Decimal.GreaterThan(settings.MaxPayoutAmount.Decimal) {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Minimum payout cannot exceed maximum payout",
		})
	}

	if err := sc.settings.Save(ctx, &settings, adminID); err != nil {
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to save commission settings",
		})
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission settings updated successfully",
		Data:    settings,
	})
}
