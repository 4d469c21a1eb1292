package models

import "time"

// User is a dashboard account.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	PasswordHash string         `json:"password_hash"`
	Broker       *BrokerSession `json:"broker,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// BrokerSession holds the user's linked broker login. The token is stored
// encrypted and only decrypted when a gateway call is made.
type BrokerSession struct {
	ClientCode     string    `json:"client_code"`
	EncryptedToken string    `json:"encrypted_token"`
	FeedToken      string    `json:"feed_token,omitempty"`
	LinkedAt       time.Time `json:"linked_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}
