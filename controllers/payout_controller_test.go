package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marketora/payout_backend/middleware"
	"github.com/marketora/payout_backend/models"
	"github.com/marketora/payout_backend/services"
)

// memPayoutStore is an in-memory PayoutStore. CommitTransition honors the
// same conditional-commit contract as the Mongo repository: the update only
// lands when the stored status still matches the one the caller read.
type memPayoutStore struct {
	mu      sync.Mutex
	payouts map[primitive.ObjectID]*models.PayoutRequest
}

func newMemPayoutStore() *memPayoutStore {
	return &memPayoutStore{payouts: make(map[primitive.ObjectID]*models.PayoutRequest)}
}

func (s *memPayoutStore) put(payout *models.PayoutRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *payout
	s.payouts[payout.ID] = &copied
}

// Create mirrors the repository's partial-unique-index contract: the insert
// and the one-open-request check are a single atomic step.
func (s *memPayoutStore) Create(ctx context.Context, payout *models.PayoutRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payouts {
		if p.SellerID == payout.SellerID && !p.Status.IsTerminal() {
			return &models.OpenRequestExistsError{SellerID: payout.SellerID.Hex()}
		}
	}
	payout.ID = primitive.NewObjectID()
	copied := *payout
	s.payouts[payout.ID] = &copied
	return nil
}

func (s *memPayoutStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payouts[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "payout request", ID: id.Hex()}
	}
	copied := *stored
	return &copied, nil
}

func (s *memPayoutStore) CommitTransition(ctx context.Context, id primitive.ObjectID, from models.PayoutStatus, action models.PayoutAction, set bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payouts[id]
	if !ok {
		return &models.NotFoundError{Resource: "payout request", ID: id.Hex()}
	}
	if stored.Status != from {
		return &models.IllegalTransitionError{Status: stored.Status, Action: action}
	}
	stored.Status = set["status"].(models.PayoutStatus)
	if reason, ok := set["rejectionReason"].(string); ok {
		stored.RejectionReason = reason
	}
	if tx, ok := set["transaction"].(*models.PayoutTransaction); ok {
		stored.Transaction = tx
	}
	return nil
}

func (s *memPayoutStore) List(ctx context.Context, filter models.PayoutFilter) ([]models.PayoutRequest, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PayoutRequest
	for _, p := range s.payouts {
		if filter.Status != "" && string(p.Status) != filter.Status {
			continue
		}
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (s *memPayoutStore) ListForSeller(ctx context.Context, sellerID primitive.ObjectID) ([]models.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PayoutRequest
	for _, p := range s.payouts {
		if p.SellerID == sellerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memPayoutStore) HasOpenRequest(ctx context.Context, sellerID primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payouts {
		if p.SellerID == sellerID && !p.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *memPayoutStore) Stats(ctx context.Context) ([]models.PayoutStatusStat, error) {
	return nil, nil
}

func (s *memPayoutStore) statusOf(t *testing.T, id primitive.ObjectID) models.PayoutStatus {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payouts[id]
	if !ok {
		t.Fatalf("payout %s not in store", id.Hex())
	}
	return stored.Status
}

type memSellerStore struct {
	sellers map[primitive.ObjectID]*models.Seller
}

func (s *memSellerStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Seller, error) {
	seller, ok := s.sellers[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "seller", ID: id.Hex()}
	}
	return seller, nil
}

// recordingNotifier counts deliveries so tests can confirm the gateway fired
// the notification after a committed transition.
type recordingNotifier struct {
	notified chan *models.PayoutRequest
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{notified: make(chan *models.PayoutRequest, 16)}
}

func (n *recordingNotifier) NotifyPayoutStatus(payout *models.PayoutRequest) {
	n.notified <- payout
}

func testMoney(t *testing.T, s string) models.Money {
	t.Helper()
	m, err := models.NewMoneyFromString(s)
	if err != nil {
		t.Fatalf("parse money %q: %v", s, err)
	}
	return m
}

func seedPayout(t *testing.T, store *memPayoutStore, status models.PayoutStatus) *models.PayoutRequest {
	t.Helper()
	payout, err := models.NewPayoutRequest(
		primitive.NewObjectID(),
		testMoney(t, "750.00"),
		models.EarningsSnapshot{
			TotalEarnings:         testMoney(t, "1000.00"),
			PlatformFee:           testMoney(t, "50.00"),
			PlatformFeePercentage: 5,
			PreviousPayouts:       testMoney(t, "200.00"),
		},
		models.PaymentMethod{
			Type:        models.PaymentMethodBankTransfer,
			BankDetails: &models.BankDetails{AccountName: "Ali Hassan", AccountNumber: "1234567890", BankName: "Byblos Bank"},
		},
		models.PayoutPriorityNormal,
		time.Now(),
	)
	if err != nil {
		t.Fatalf("seed payout: %v", err)
	}
	payout.ID = primitive.NewObjectID()
	payout.RequestNumber = "PAY-TEST0001"
	payout.Status = status
	store.put(payout)
	return payout
}

func authedContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, userID, userType string) echo.Context {
	c := e.NewContext(req, rec)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &middleware.JwtCustomClaims{
		UserID:   userID,
		UserType: userType,
	})
	c.Set("user", token)
	return c
}

func doAction(t *testing.T, pc *PayoutController, handler func(echo.Context) error, payoutID primitive.ObjectID, body, userID, userType string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, userID, userType)
	c.SetParamNames("id")
	c.SetParamValues(payoutID.Hex())
	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec
}

func newTestController(store *memPayoutStore, notifier PayoutNotifier, earnings *services.EarningsService, sellers SellerStore) *PayoutController {
	if sellers == nil {
		sellers = &memSellerStore{sellers: map[primitive.ObjectID]*models.Seller{}}
	}
	return NewPayoutController(store, sellers, earnings, notifier, nil)
}

func TestApprovePayoutHappyPath(t *testing.T) {
	store := newMemPayoutStore()
	notifier := newRecordingNotifier()
	pc := newTestController(store, notifier, nil, nil)
	payout := seedPayout(t, store, models.PayoutStatusPending)
	adminID := primitive.NewObjectID().Hex()

	rec := doAction(t, pc, pc.ApprovePayout, payout.ID, `{"adminNotes":"verified"}`, adminID, "admin")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := store.statusOf(t, payout.ID); got != models.PayoutStatusApproved {
		t.Errorf("stored status = %s, want approved", got)
	}

	select {
	case notified := <-notifier.notified:
		if notified.Status != models.PayoutStatusApproved {
			t.Errorf("notification carries status %s, want approved", notified.Status)
		}
	case <-time.After(time.Second):
		t.Error("seller was not notified of the transition")
	}
}

func TestRejectPayoutRequiresReason(t *testing.T) {
	store := newMemPayoutStore()
	pc := newTestController(store, newRecordingNotifier(), nil, nil)
	payout := seedPayout(t, store, models.PayoutStatusUnderReview)
	adminID := primitive.NewObjectID().Hex()

	rec := doAction(t, pc, pc.RejectPayout, payout.ID, `{}`, adminID, "admin")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := store.statusOf(t, payout.ID); got != models.PayoutStatusUnderReview {
		t.Errorf("stored status mutated to %s on failed validation", got)
	}

	rec = doAction(t, pc, pc.RejectPayout, payout.ID, `{"rejectionReason":"Bank account could not be verified"}`, adminID, "admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := store.statusOf(t, payout.ID); got != models.PayoutStatusRejected {
		t.Errorf("stored status = %s, want rejected", got)
	}
}

func TestIllegalActionConflicts(t *testing.T) {
	store := newMemPayoutStore()
	pc := newTestController(store, newRecordingNotifier(), nil, nil)
	payout := seedPayout(t, store, models.PayoutStatusPending)
	adminID := primitive.NewObjectID().Hex()

	// complete is only legal from processing
	rec := doAction(t, pc, pc.CompletePayout, payout.ID, `{}`, adminID, "admin")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if got := store.statusOf(t, payout.ID); got != models.PayoutStatusPending {
		t.Errorf("stored status mutated to %s on illegal action", got)
	}
}

func TestActionRequiresAdmin(t *testing.T) {
	store := newMemPayoutStore()
	pc := newTestController(store, newRecordingNotifier(), nil, nil)
	payout := seedPayout(t, store, models.PayoutStatusPending)

	rec := doAction(t, pc, pc.ApprovePayout, payout.ID, `{}`, primitive.NewObjectID().Hex(), "seller")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	// super_admin passes the admin gate
	rec = doAction(t, pc, pc.ApprovePayout, payout.ID, `{}`, primitive.NewObjectID().Hex(), "super_admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("super_admin status = %d, want 200", rec.Code)
	}
}

func TestActionUnknownPayout(t *testing.T) {
	store := newMemPayoutStore()
	pc := newTestController(store, newRecordingNotifier(), nil, nil)

	rec := doAction(t, pc, pc.ApprovePayout, primitive.NewObjectID(), `{}`, primitive.NewObjectID().Hex(), "admin")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestConcurrentApprovalsOnlyOneWins(t *testing.T) {
	store := newMemPayoutStore()
	pc := newTestController(store, newRecordingNotifier(), nil, nil)
	payout := seedPayout(t, store, models.PayoutStatusPending)

	const admins = 2
	codes := make(chan int, admins)
	var wg sync.WaitGroup
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := doAction(t, pc, pc.ApprovePayout, payout.ID, `{}`, primitive.NewObjectID().Hex(), "admin")
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	var ok, conflict int
	for code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Errorf("got %d successes and %d conflicts, want exactly one of each", ok, conflict)
	}
	if got := store.statusOf(t, payout.ID); got != models.PayoutStatusApproved {
		t.Errorf("stored status = %s, want approved", got)
	}
}

type fixedSellers struct {
	seller *models.Seller
}

func (s *fixedSellers) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Seller, error) {
	if s.seller == nil || s.seller.ID != id {
		return nil, &models.NotFoundError{Resource: "seller", ID: id.Hex()}
	}
	return s.seller, nil
}

type fixedHistory struct {
	store *memPayoutStore
}

func (h *fixedHistory) SumCompletedForSeller(ctx context.Context, sellerID primitive.ObjectID) (models.Money, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	total := models.ZeroMoney()
	for _, p := range h.store.payouts {
		if p.SellerID == sellerID && p.Status == models.PayoutStatusCompleted {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

type fixedSettings struct{}

func (fixedSettings) Current(ctx context.Context) (*models.CommissionSettings, error) {
	return &models.CommissionSettings{PlatformFeePercentage: 5}, nil
}

func TestCreatePayoutRequest(t *testing.T) {
	store := newMemPayoutStore()
	seller := &models.Seller{
		ID:            primitive.NewObjectID(),
		FullName:      "Ali Hassan",
		Email:         "ali@example.com",
		TotalEarnings: testMoney(t, "1000.00"),
		IsActive:      true,
	}
	sellers := &fixedSellers{seller: seller}
	earnings := services.NewEarningsService(sellers, &fixedHistory{store: store}, fixedSettings{})
	pc := newTestController(store, newRecordingNotifier(), earnings, sellers)

	e := echo.New()
	body := `{"paymentMethod":{"type":"whish","whishPhone":"+96170123456"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/payouts", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, seller.ID.Hex(), "seller")

	if err := pc.CreatePayoutRequest(c); err != nil {
		t.Fatalf("CreatePayoutRequest: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.payouts) != 1 {
		t.Fatalf("stored %d payouts, want 1", len(store.payouts))
	}
	for _, p := range store.payouts {
		if p.Amount.String() != "950" {
			t.Errorf("amount = %s, want 950", p.Amount.String())
		}
		if p.Status != models.PayoutStatusPending {
			t.Errorf("status = %s, want pending", p.Status)
		}
		if !strings.HasPrefix(p.RequestNumber, "PAY-") || len(p.RequestNumber) != 12 {
			t.Errorf("requestNumber = %q", p.RequestNumber)
		}
		if p.PaymentMethod.Type != models.PaymentMethodWhish {
			t.Errorf("paymentMethod = %s", p.PaymentMethod.Type)
		}
	}
}

func TestCreatePayoutRequestRejectsSecondOpenRequest(t *testing.T) {
	store := newMemPayoutStore()
	seller := &models.Seller{
		ID:            primitive.NewObjectID(),
		TotalEarnings: testMoney(t, "1000.00"),
		IsActive:      true,
	}
	existing := seedPayout(t, store, models.PayoutStatusPending)
	existing.SellerID = seller.ID
	store.put(existing)

	sellers := &fixedSellers{seller: seller}
	earnings := services.NewEarningsService(sellers, &fixedHistory{store: store}, fixedSettings{})
	pc := newTestController(store, newRecordingNotifier(), earnings, sellers)

	e := echo.New()
	body := `{"paymentMethod":{"type":"paypal","paypalEmail":"ali@example.com"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/payouts", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, seller.ID.Hex(), "seller")

	if err := pc.CreatePayoutRequest(c); err != nil {
		t.Fatalf("CreatePayoutRequest: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestConcurrentCreatesOnlyOneWins(t *testing.T) {
	store := newMemPayoutStore()
	seller := &models.Seller{
		ID:            primitive.NewObjectID(),
		FullName:      "Ali Hassan",
		TotalEarnings: testMoney(t, "1000.00"),
		IsActive:      true,
	}
	sellers := &fixedSellers{seller: seller}
	earnings := services.NewEarningsService(sellers, &fixedHistory{store: store}, fixedSettings{})
	pc := newTestController(store, newRecordingNotifier(), earnings, sellers)

	const attempts = 2
	codes := make(chan int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := echo.New()
			body := `{"paymentMethod":{"type":"paypal","paypalEmail":"ali@example.com"}}`
			req := httptest.NewRequest(http.MethodPost, "/api/payouts", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := authedContext(e, req, rec, seller.ID.Hex(), "seller")
			if err := pc.CreatePayoutRequest(c); err != nil {
				t.Errorf("CreatePayoutRequest: %v", err)
				return
			}
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	var created, conflict int
	for code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflict++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if created != 1 || conflict != 1 {
		t.Errorf("got %d created and %d conflicts, want exactly one of each", created, conflict)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.payouts) != 1 {
		t.Errorf("stored %d payouts, want 1", len(store.payouts))
	}
}

func TestGetSellerPayoutOwnership(t *testing.T) {
	store := newMemPayoutStore()
	pc := newTestController(store, newRecordingNotifier(), nil, nil)
	payout := seedPayout(t, store, models.PayoutStatusPending)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/payouts/"+payout.ID.Hex(), nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, primitive.NewObjectID().Hex(), "seller")
	c.SetParamNames("id")
	c.SetParamValues(payout.ID.Hex())

	if err := pc.GetSellerPayout(c); err != nil {
		t.Fatalf("GetSellerPayout: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestListPayoutsDefaultPagination(t *testing.T) {
	store := newMemPayoutStore()
	pc := newTestController(store, newRecordingNotifier(), nil, nil)
	seedPayout(t, store, models.PayoutStatusPending)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/payouts", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, primitive.NewObjectID().Hex(), "admin")

	if err := pc.ListPayouts(c); err != nil {
		t.Fatalf("ListPayouts: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data struct {
			Page  int64 `json:"page"`
			Limit int64 `json:"limit"`
			Total int64 `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Page != 1 || resp.Data.Limit != 20 {
		t.Errorf("pagination metadata = page %d limit %d, want page 1 limit 20", resp.Data.Page, resp.Data.Limit)
	}
	if resp.Data.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Data.Total)
	}
}

func TestGetPayoutReceiptQR(t *testing.T) {
	store := newMemPayoutStore()
	pc := newTestController(store, newRecordingNotifier(), nil, nil)

	payout := seedPayout(t, store, models.PayoutStatusCompleted)
	payout.Transaction = &models.PayoutTransaction{
		TransactionID: "TXN-1",
		ReceiptURL:    "https://cdn.example.com/receipts/1.pdf",
	}
	store.put(payout)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, primitive.NewObjectID().Hex(), "admin")
	c.SetParamNames("id")
	c.SetParamValues(payout.ID.Hex())

	if err := pc.GetPayoutReceiptQR(c); err != nil {
		t.Fatalf("GetPayoutReceiptQR: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Errorf("content type = %s, want image/png", ct)
	}

	// Pending payouts have no receipt yet
	pending := seedPayout(t, store, models.PayoutStatusPending)
	rec2 := httptest.NewRecorder()
	c2 := authedContext(e, httptest.NewRequest(http.MethodGet, "/", nil), rec2, primitive.NewObjectID().Hex(), "admin")
	c2.SetParamNames("id")
	c2.SetParamValues(pending.ID.Hex())
	if err := pc.GetPayoutReceiptQR(c2); err != nil {
		t.Fatalf("GetPayoutReceiptQR: %v", err)
	}
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec2.Code)
	}
}
