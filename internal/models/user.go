package models

import "time"

// User is the durable record for an authenticated subject. Token fields hold
// ciphertext envelopes, never plaintext; the crypto vault owns translation.
type User struct {
	UserID                string     `json:"userId"`
	AccessTokenCiphertext string     `json:"-"`
	RefreshTokenCipher    string     `json:"-"`
	TokenExpiresAt        *time.Time `json:"tokenExpiresAt,omitempty"`
	IsConnected           bool       `json:"isConnected"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// TwitterTokens is a decrypted token pair handed to the publisher. It never
// crosses the HTTP boundary.
type TwitterTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// ConnectTwitterRequest carries freshly obtained OAuth tokens from the
// client-side authorization flow.
type ConnectTwitterRequest struct {
	AccessToken    string     `json:"accessToken"`
	RefreshToken   string     `json:"refreshToken,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
}

// ConnectionStatusRequest toggles the stored connection flag.
type ConnectionStatusRequest struct {
	IsConnected bool `json:"isConnected"`
}
