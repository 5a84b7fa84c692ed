package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"firebase.google.com/go/v4/messaging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/gomail.v2"

	"github.com/marketora/payout_backend/config"
	"github.com/marketora/payout_backend/models"
	"github.com/marketora/payout_backend/websocket"
)

// NotificationService announces payout status changes to sellers over every
// channel we have: email, FCM push, in-app notification document and the
// WebSocket hub. All of it is best-effort; a delivery failure is logged and
// never bubbles back into the transition that triggered it.
type NotificationService struct {
	db  *mongo.Database
	hub *websocket.Hub
}

func NewNotificationService(db *mongo.Database, hub *websocket.Hub) *NotificationService {
	return &NotificationService{db: db, hub: hub}
}

// NotifyPayoutStatus fans a status change out to the seller. Call it in a
// goroutine after the transition has committed.
func (ns *NotificationService) NotifyPayoutStatus(payout *models.PayoutRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var seller models.Seller
	err := ns.db.Collection("sellers").FindOne(ctx, bson.M{"_id": payout.SellerID}).Decode(&seller)
	if err != nil {
		log.Printf("Failed to load seller for payout notification: %v", err)
		return
	}

	title, body := payoutStatusMessage(&seller, payout)

	if seller.Email != "" {
		if err := ns.sendEmail(seller.Email, title, body); err != nil {
			log.Printf("Failed to send payout notification email: %v", err)
		}
	}

	if seller.FCMToken != "" {
		if err := ns.sendPush(ctx, seller.FCMToken, title, payout); err != nil {
			log.Printf("Failed to send payout push notification: %v", err)
		}
	}

	if err := ns.saveInApp(ctx, &seller, title, payout); err != nil {
		log.Printf("Failed to save in-app payout notification: %v", err)
	}

	if err := ns.hub.NotifyPayoutStatus(seller.ID, title, map[string]interface{}{
		"payoutId":      payout.ID.Hex(),
		"requestNumber": payout.RequestNumber,
		"status":        payout.Status,
		"statusLabel":   payout.Status.Label(),
	}); err != nil {
		// Seller simply isn't connected most of the time
		log.Printf("WebSocket payout notification not delivered: %v", err)
	}
}

// sendEmail delivers the notification over SMTP using gomail.
func (ns *NotificationService) sendEmail(to, subject, body string) error {
	smtpHost := os.Getenv("SMTP_HOST")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")
	smtpPort := 2525
	if portStr := os.Getenv("SMTP_PORT"); portStr != "" {
		fmt.Sscanf(portStr, "%d", &smtpPort)
	}
	if smtpHost == "" {
		return fmt.Errorf("SMTP_HOST not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPass)
	return d.DialAndSend(m)
}

// sendPush delivers an FCM push notification when Firebase is configured.
func (ns *NotificationService) sendPush(ctx context.Context, fcmToken, title string, payout *models.PayoutRequest) error {
	if config.FirebaseApp == nil {
		return nil
	}

	client, err := config.FirebaseApp.Messaging(ctx)
	if err != nil {
		return err
	}

	message := &messaging.Message{
		Token: fcmToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  fmt.Sprintf("Payout %s is now %s", payout.RequestNumber, payout.Status.Label()),
		},
		Data: map[string]string{
			"payoutId": payout.ID.Hex(),
			"status":   string(payout.Status),
		},
	}

	_, err = client.Send(ctx, message)
	return err
}

// saveInApp stores the notification for the seller's notification feed.
func (ns *NotificationService) saveInApp(ctx context.Context, seller *models.Seller, title string, payout *models.PayoutRequest) error {
	notification := models.Notification{
		UserID:  seller.ID,
		Title:   title,
		Message: fmt.Sprintf("Your payout request %s is now %s.", payout.RequestNumber, payout.Status.Label()),
		Type:    "payout_status",
		Data: map[string]interface{}{
			"payoutId":      payout.ID.Hex(),
			"requestNumber": payout.RequestNumber,
			"status":        payout.Status,
		},
		IsRead:    false,
		CreatedAt: time.Now(),
	}

	_, err := ns.db.Collection("notifications").InsertOne(ctx, notification)
	return err
}

// payoutStatusMessage composes the email subject and body for a status.
func payoutStatusMessage(seller *models.Seller, payout *models.PayoutRequest) (string, string) {
	var subject, detail string

	switch payout.Status {
	case models.PayoutStatusUnderReview:
		subject = "Your Payout Request Is Under Review"
		detail = "Our team has started reviewing your payout request."
	case models.PayoutStatusApproved:
		subject = "Payout Request Approved!"
		detail = "Great news! Your payout request has been approved and will be processed shortly."
	case models.PayoutStatusProcessing:
		subject = "Payout Is Being Processed"
		detail = "Your payout is on its way. You will receive the funds according to your payment method."
	case models.PayoutStatusCompleted:
		subject = "Payout Completed"
		detail = "Your payout has been disbursed. Keep the reference number for your records."
	case models.PayoutStatusRejected:
		subject = "Payout Request Update"
		detail = "Your payout request has been rejected.\nReason: " + payout.RejectionReason
	case models.PayoutStatusCancelled:
		subject = "Payout Request Cancelled"
		detail = "Your payout request has been cancelled."
	default:
		subject = "Payout Request Update"
		detail = fmt.Sprintf("Your payout request is now %s.", payout.Status.Label())
	}

	body := fmt.Sprintf(`Dear %s,

%s

Payout Details:
- Reference: %s
- Amount: $%s
- Requested At: %s
- Status: %s

If you have any questions, please contact our support team.
`,
		seller.FullName,
		detail,
		payout.RequestNumber,
		payout.Amount.StringFixed(2),
		payout.CreatedAt.Format("2006-01-02 15:04:05"),
		payout.Status.Label(),
	)

	return subject, body
}
