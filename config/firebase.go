// config/firebase.go
package config

import (
	"context"
	"encoding/base64"
	"log"
	"os"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

var FirebaseApp *firebase.App

// InitFirebase initializes the Firebase Admin SDK used for FCM push
// notifications. Push delivery is optional: when no credentials are
// configured the app starts without it.
func InitFirebase() {
	ctx := context.Background()

	if base64Creds := os.Getenv("FIREBASE_CREDENTIALS_BASE64"); base64Creds != "" {
		decoded, err := base64.StdEncoding.DecodeString(base64Creds)
		if err != nil {
			log.Fatalf("Error decoding base64 Firebase credentials: %v", err)
		}

		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON(decoded))
		if err != nil {
			log.Fatalf("error initializing firebase app: %v", err)
		}
		FirebaseApp = app
		return
	}

	credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if credFile == "" {
		log.Println("Warning: Firebase credentials not configured, push notifications disabled")
		return
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credFile))
	if err != nil {
		log.Fatalf("error initializing firebase app: %v", err)
	}
	FirebaseApp = app
	log.Println("Firebase initialized")
}
