package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marketora/payout_backend/middleware"
	"github.com/marketora/payout_backend/models"
	"github.com/marketora/payout_backend/services"
	"github.com/marketora/payout_backend/utils"
)

const statsCacheKey = "payouts:stats"
const statsCacheTTL = 30 * time.Second

// PayoutStore is the persistence surface the gateway needs. The Mongo
// implementation lives in repositories; tests substitute an in-memory one
// honoring the same conditional-commit contract.
type PayoutStore interface {
	Create(ctx context.Context, payout *models.PayoutRequest) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.PayoutRequest, error)
	CommitTransition(ctx context.Context, id primitive.ObjectID, from models.PayoutStatus, action models.PayoutAction, set bson.M) error
	List(ctx context.Context, filter models.PayoutFilter) ([]models.PayoutRequest, int64, error)
	ListForSeller(ctx context.Context, sellerID primitive.ObjectID) ([]models.PayoutRequest, error)
	HasOpenRequest(ctx context.Context, sellerID primitive.ObjectID) (bool, error)
	Stats(ctx context.Context) ([]models.PayoutStatusStat, error)
}

// SellerStore resolves sellers for list enrichment and ownership checks.
type SellerStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Seller, error)
}

// PayoutNotifier announces a committed transition to the seller.
// Implementations must be safe to call from a goroutine.
type PayoutNotifier interface {
	NotifyPayoutStatus(payout *models.PayoutRequest)
}

// PayoutController is the review/action gateway: the single mutation surface
// for payout requests after creation.
type PayoutController struct {
	store    PayoutStore
	sellers  SellerStore
	earnings *services.EarningsService
	notifier PayoutNotifier
	cache    *redis.Client
}

func NewPayoutController(store PayoutStore, sellers SellerStore, earnings *services.EarningsService, notifier PayoutNotifier, cache *redis.Client) *PayoutController {
	return &PayoutController{
		store:    store,
		sellers:  sellers,
		earnings: earnings,
		notifier: notifier,
		cache:    cache,
	}
}

// CreatePayoutRequestBody is the seller-facing creation payload. The amount
// is never part of it; it always comes out of the earnings reconciliation.
type CreatePayoutRequestBody struct {
	PaymentMethod models.PaymentMethod `json:"paymentMethod" validate:"required"`
	Priority      string               `json:"priority,omitempty"`
}

// CreatePayoutRequest lets an authenticated seller request a payout of their
// full payable balance.
func (pc *PayoutController) CreatePayoutRequest(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil || claims.UserType != "seller" {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "Only sellers can request payouts"})
	}

	sellerID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid seller ID in token",
		})
	}

	var body CreatePayoutRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
		})
	}

	if body.PaymentMethod.Type == models.PaymentMethodWhish {
		phone, err := utils.SanitizePhone(body.PaymentMethod.WhishPhone)
		if err != nil {
			return respondPayoutError(c, &models.ValidationError{Field: "whishPhone", Reason: err.Error()})
		}
		body.PaymentMethod.WhishPhone = phone
	}

	open, err := pc.store.HasOpenRequest(ctx, sellerID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to check existing payout requests",
		})
	}
	if open {
		return c.JSON(http.StatusConflict, models.Response{
			Status:  http.StatusConflict,
			Message: "You already have an open payout request",
		})
	}

	snapshot, amount, err := pc.earnings.BuildSnapshot(ctx, sellerID)
	if err != nil {
		return respondPayoutError(c, err)
	}

	payout, err := models.NewPayoutRequest(sellerID, amount, snapshot, body.PaymentMethod, body.Priority, time.Now())
	if err != nil {
		return respondPayoutError(c, err)
	}
	payout.RequestNumber = newRequestNumber()

	if err := pc.store.Create(ctx, payout); err != nil {
		var openErr *models.OpenRequestExistsError
		if errors.As(err, &openErr) {
			return respondPayoutError(c, err)
		}
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to create payout request",
		})
	}

	pc.invalidateStatsCache()

	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Payout request created successfully",
		Data:    payout,
	})
}

// newRequestNumber builds the human-readable reference, e.g. PAY-9F2C41A7.
func newRequestNumber() string {
	id := uuid.New()
	return "PAY-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// Admin action handlers. Each one is the same gated read-validate-commit
// cycle; only the action differs.

func (pc *PayoutController) ReviewPayout(c echo.Context) error {
	return pc.performAction(c, models.PayoutActionReview)
}

func (pc *PayoutController) ApprovePayout(c echo.Context) error {
	return pc.performAction(c, models.PayoutActionApprove)
}

func (pc *PayoutController) RejectPayout(c echo.Context) error {
	return pc.performAction(c, models.PayoutActionReject)
}

func (pc *PayoutController) ProcessPayout(c echo.Context) error {
	return pc.performAction(c, models.PayoutActionProcess)
}

func (pc *PayoutController) CompletePayout(c echo.Context) error {
	return pc.performAction(c, models.PayoutActionComplete)
}

func (pc *PayoutController) CancelPayout(c echo.Context) error {
	return pc.performAction(c, models.PayoutActionCancel)
}

// performAction runs one admin transition: authorize, load, validate against
// the state machine, commit conditionally on the status it read, then notify
// the seller asynchronously. A failed commit (stale status) surfaces as a
// conflict; nothing is persisted in that case.
func (pc *PayoutController) performAction(c echo.Context, action models.PayoutAction) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil || (claims.UserType != "admin" && claims.UserType != "super_admin") {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "Only admins can perform payout actions"})
	}

	payoutID := c.Param("id")
	if payoutID == "" {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Payout ID is required",
		})
	}

	payoutObjectID, err := primitive.ObjectIDFromHex(payoutID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid payout ID format",
		})
	}

	adminObjectID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid admin ID",
		})
	}

	var input models.ActionInput
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
		})
	}

	input.AdminNotes = utils.SanitizeInput(input.AdminNotes)
	input.RejectionReason = utils.SanitizeInput(input.RejectionReason)

	payout, err := pc.store.FindByID(ctx, payoutObjectID)
	if err != nil {
		return respondPayoutError(c, err)
	}

	from := payout.Status
	set, err := payout.ApplyAction(action, input, adminObjectID, time.Now())
	if err != nil {
		return respondPayoutError(c, err)
	}

	if err := pc.store.CommitTransition(ctx, payout.ID, from, action, set); err != nil {
		return respondPayoutError(c, err)
	}

	// Fire-and-forget: a notification failure must never roll back the
	// committed transition.
	go pc.notifier.NotifyPayoutStatus(payout)

	pc.invalidateStatsCache()

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout request " + string(payout.Status) + " successfully",
		Data: map[string]interface{}{
			"payout":       payout,
			"statusLabel":  payout.Status.Label(),
			"legalActions": models.LegalActions(payout.Status),
		},
	})
}

// GetPayout returns a single payout request with seller details for the
// admin detail view.
func (pc *PayoutController) GetPayout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil || (claims.UserType != "admin" && claims.UserType != "super_admin") {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "Only admins can access this endpoint"})
	}

	payoutObjectID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid payout ID format",
		})
	}

	payout, err := pc.store.FindByID(ctx, payoutObjectID)
	if err != nil {
		return respondPayoutError(c, err)
	}

	data := map[string]interface{}{
		"payout":       payout,
		"statusLabel":  payout.Status.Label(),
		"legalActions": models.LegalActions(payout.Status),
	}

	if seller, err := pc.sellers.FindByID(ctx, payout.SellerID); err == nil {
		data["seller"] = map[string]interface{}{
			"id":        seller.ID,
			"fullName":  seller.FullName,
			"email":     seller.Email,
			"phone":     seller.Phone,
			"storeName": seller.StoreName,
		}
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout request retrieved successfully",
		Data:    data,
	})
}

// ListPayouts returns a filtered, paginated page of payout requests for the
// admin dashboard.
func (pc *PayoutController) ListPayouts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil || (claims.UserType != "admin" && claims.UserType != "super_admin") {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "Only admins can access this endpoint"})
	}

	filter := models.PayoutFilter{
		Status:   c.QueryParam("status"),
		Priority: c.QueryParam("priority"),
		SellerID: c.QueryParam("sellerId"),
		Search:   c.QueryParam("search"),
	}

	if filter.Status != "" && !models.IsValidPayoutStatus(filter.Status) {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid status filter",
		})
	}

	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.Response{
				Status:  http.StatusBadRequest,
				Message: "Invalid from date, expected YYYY-MM-DD",
			})
		}
		filter.From = t
	}
	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.Response{
				Status:  http.StatusBadRequest,
				Message: "Invalid to date, expected YYYY-MM-DD",
			})
		}
		// Include the whole day
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	if page := c.QueryParam("page"); page != "" {
		filter.Page, _ = strconv.ParseInt(page, 10, 64)
	}
	if limit := c.QueryParam("limit"); limit != "" {
		filter.Limit, _ = strconv.ParseInt(limit, 10, 64)
	}

	// Normalize up front so the pagination metadata in the response matches
	// the page that was actually served
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	payouts, total, err := pc.store.List(ctx, filter)
	if err != nil {
		return respondPayoutError(c, err)
	}

	// Enrich with seller details like the dashboard table shows
	enriched := make([]map[string]interface{}, 0, len(payouts))
	for i := range payouts {
		payout := payouts[i]
		entry := map[string]interface{}{
			"payout":      payout,
			"statusLabel": payout.Status.Label(),
		}
		if seller, err := pc.sellers.FindByID(ctx, payout.SellerID); err == nil {
			entry["seller"] = map[string]interface{}{
				"id":        seller.ID,
				"fullName":  seller.FullName,
				"email":     seller.Email,
				"storeName": seller.StoreName,
			}
		}
		enriched = append(enriched, entry)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout requests retrieved successfully",
		Data: map[string]interface{}{
			"payouts": enriched,
			"total":   total,
			"page":    filter.Page,
			"limit":   filter.Limit,
		},
	})
}

// GetPayoutStats returns counts and summed amounts per status. Advisory
// figures for the dashboard header, cached briefly in Redis.
func (pc *PayoutController) GetPayoutStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil || (claims.UserType != "admin" && claims.UserType != "super_admin") {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "Only admins can access this endpoint"})
	}

	if pc.cache != nil {
		if cached, err := pc.cache.Get(ctx, statsCacheKey).Result(); err == nil {
			var stats []models.PayoutStatusStat
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				return c.JSON(http.StatusOK, models.Response{
					Status:  http.StatusOK,
					Message: "Payout stats retrieved successfully",
					Data:    stats,
				})
			}
		}
	}

	stats, err := pc.store.Stats(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to aggregate payout stats",
		})
	}

	if pc.cache != nil {
		if encoded, err := json.Marshal(stats); err == nil {
			pc.cache.Set(ctx, statsCacheKey, encoded, statsCacheTTL)
		}
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout stats retrieved successfully",
		Data:    stats,
	})
}

// GetSellerPayouts returns the authenticated seller's own payout history.
func (pc *PayoutController) GetSellerPayouts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil || claims.UserType != "seller" {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "Only sellers can access this endpoint"})
	}

	sellerID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid seller ID in token",
		})
	}

	payouts, err := pc.store.ListForSeller(ctx, sellerID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to retrieve payout history",
		})
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout history retrieved successfully",
		Data:    payouts,
	})
}

// GetSellerPayout returns one of the seller's own payout requests.
func (pc *PayoutController) GetSellerPayout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil || claims.UserType != "seller" {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "Only sellers can access this endpoint"})
	}

	payoutObjectID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid payout ID format",
		})
	}

	payout, err := pc.store.FindByID(ctx, payoutObjectID)
	if err != nil {
		return respondPayoutError(c, err)
	}

	if payout.SellerID.Hex() != claims.UserID {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "You can only view your own payout requests"})
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout request retrieved successfully",
		Data: map[string]interface{}{
			"payout":      payout,
			"statusLabel": payout.Status.Label(),
		},
	})
}

// GetPayoutReceiptQR renders the completed payout's receipt URL as a QR code
// PNG for printing alongside the disbursement record.
func (pc *PayoutController) GetPayoutReceiptQR(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims := middleware.GetUserFromToken(c)
	if claims == nil || (claims.UserType != "admin" && claims.UserType != "super_admin") {
		return respondPayoutError(c, &models.AuthorizationError{Reason: "Only admins can access this endpoint"})
	}

	payoutObjectID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid payout ID format",
		})
	}

	payout, err := pc.store.FindByID(ctx, payoutObjectID)
	if err != nil {
		return respondPayoutError(c, err)
	}

	if payout.Status != models.PayoutStatusCompleted || payout.Transaction == nil || payout.Transaction.ReceiptURL == "" {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Payout has no receipt to encode",
		})
	}

	code, err := qr.Encode(payout.Transaction.ReceiptURL, qr.M, qr.Auto)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to generate QR code",
		})
	}

	code, err = barcode.Scale(code, 256, 256)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to scale QR code",
		})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to encode QR code",
		})
	}

	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// invalidateStatsCache drops the cached dashboard stats after any write.
func (pc *PayoutController) invalidateStatsCache() {
	if pc.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pc.cache.Del(ctx, statsCacheKey)
}

// respondPayoutError maps the domain error taxonomy onto HTTP statuses.
func respondPayoutError(c echo.Context, err error) error {
	var validationErr *models.ValidationError
	var authErr *models.AuthorizationError
	var notFoundErr *models.NotFoundError
	var transitionErr *models.IllegalTransitionError
	var earningsErr *models.InsufficientEarningsError
	var immutableErr *models.ImmutableFieldError
	var openErr *models.OpenRequestExistsError

	switch {
	case errors.As(err, &openErr):
		return c.JSON(http.StatusConflict, models.Response{
			Status:  http.StatusConflict,
			Message: "You already have an open payout request",
		})
	case errors.As(err, &immutableErr):
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: immutableErr.Error(),
		})
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: validationErr.Error(),
		})
	case errors.As(err, &authErr):
		return c.JSON(http.StatusForbidden, models.Response{
			Status:  http.StatusForbidden,
			Message: authErr.Error(),
		})
	case errors.As(err, &notFoundErr):
		return c.JSON(http.StatusNotFound, models.Response{
			Status:  http.StatusNotFound,
			Message: notFoundErr.Error(),
		})
	case errors.As(err, &transitionErr):
		return c.JSON(http.StatusConflict, models.Response{
			Status:  http.StatusConflict,
			Message: transitionErr.Error(),
		})
	case errors.As(err, &earningsErr):
		return c.JSON(http.StatusUnprocessableEntity, models.Response{
			Status:  http.StatusUnprocessableEntity,
			Message: earningsErr.Error(),
		})
	default:
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Internal server error",
		})
	}
}
