package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vouse/vouse-server/internal/crypto"
	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/models"
	"github.com/vouse/vouse-server/internal/twitter"
)

// ErrNotConnected marks a user with no usable platform tokens. Callers
// surface it as a connection problem, not an internal failure.
var ErrNotConnected = errors.New("user has no connected account")

type userStore interface {
	Get(ctx context.Context, userID string) (*models.User, error)
	FindOrCreate(ctx context.Context, userID string) (*models.User, error)
	SetTokens(ctx context.Context, userID, accessCiphertext string, refreshCiphertext *string, expiresAt *time.Time) error
	ClearTokens(ctx context.Context, userID string) error
}

type deviceStore interface {
	Register(ctx context.Context, t *models.DeviceToken) error
	Unregister(ctx context.Context, userID, token string) error
	ListForUser(ctx context.Context, userID string) ([]*models.DeviceToken, error)
}

type tokenVerifier interface {
	VerifyTokens(ctx context.Context, accessToken string) (string, error)
}

// Service owns account state: the user row, the encrypted platform token
// pair, and push device registrations.
type Service struct {
	users    userStore
	devices  deviceStore
	vault    *crypto.Vault
	verifier tokenVerifier
	logger   *slog.Logger
}

// NewService creates a new user service.
func NewService(users userStore, devices deviceStore, vault *crypto.Vault, verifier tokenVerifier, logger *slog.Logger) *Service {
	return &Service{
		users:    users,
		devices:  devices,
		vault:    vault,
		verifier: verifier,
		logger:   logger,
	}
}

// FindOrCreate returns the user row, creating it on first authenticated
// touch.
func (s *Service) FindOrCreate(ctx context.Context, userID string) (*models.User, error) {
	return s.users.FindOrCreate(ctx, userID)
}

// Get retrieves a user by ID.
func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	return s.users.Get(ctx, userID)
}

// ConnectTwitter encrypts and stores a token pair obtained by the client's
// authorization flow. An omitted refresh token preserves the stored one, so
// reconnecting with only a fresh access token never orphans the grant.
func (s *Service) ConnectTwitter(ctx context.Context, userID string, req models.ConnectTwitterRequest) error {
	if req.AccessToken == "" {
		return fmt.Errorf("accessToken is required")
	}

	if _, err := s.users.FindOrCreate(ctx, userID); err != nil {
		return err
	}

	accessCiphertext, err := s.vault.Encrypt(req.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	var refreshCiphertext *string
	if req.RefreshToken != "" {
		encrypted, err := s.vault.Encrypt(req.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		refreshCiphertext = &encrypted
	}

	if err := s.users.SetTokens(ctx, userID, accessCiphertext, refreshCiphertext, req.TokenExpiresAt); err != nil {
		return err
	}

	s.logger.Info("twitter account connected", "user_id", userID, "has_refresh", refreshCiphertext != nil)
	return nil
}

// DisconnectTwitter wipes the stored token pair and flips the connection
// flag off.
func (s *Service) DisconnectTwitter(ctx context.Context, userID string) error {
	if err := s.users.ClearTokens(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("twitter account disconnected", "user_id", userID)
	return nil
}

// SetConnectionStatus applies the client's connection flag. Turning the flag
// off clears tokens; turning it on is only meaningful through ConnectTwitter,
// so a bare true reports the current state unchanged.
func (s *Service) SetConnectionStatus(ctx context.Context, userID string, connected bool) (*models.User, error) {
	if !connected {
		if err := s.users.ClearTokens(ctx, userID); err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	}
	return s.users.FindOrCreate(ctx, userID)
}

// PlaintextTokens decrypts the stored pair for outbound platform calls.
// Undecryptable ciphertext is treated as absent rather than fatal: the vault
// key may have rotated underneath old rows.
func (s *Service) PlaintextTokens(ctx context.Context, userID string) (*models.TwitterTokens, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !user.IsConnected || user.AccessTokenCiphertext == "" {
		return nil, ErrNotConnected
	}

	accessToken := s.vault.Decrypt(user.AccessTokenCiphertext)
	if accessToken == "" {
		s.logger.Warn("stored access token is undecryptable", "user_id", userID)
		return nil, ErrNotConnected
	}

	tokens := &models.TwitterTokens{
		AccessToken: accessToken,
		ExpiresAt:   user.TokenExpiresAt,
	}
	if user.RefreshTokenCipher != "" {
		tokens.RefreshToken = s.vault.Decrypt(user.RefreshTokenCipher)
	}
	return tokens, nil
}

// StoreRefreshedTokens persists a pair returned by the refresh grant. An
// empty rotated refresh token keeps the stored one.
func (s *Service) StoreRefreshedTokens(ctx context.Context, userID string, tokens *models.TwitterTokens) error {
	accessCiphertext, err := s.vault.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	var refreshCiphertext *string
	if tokens.RefreshToken != "" {
		encrypted, err := s.vault.Encrypt(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		refreshCiphertext = &encrypted
	}

	return s.users.SetTokens(ctx, userID, accessCiphertext, refreshCiphertext, tokens.ExpiresAt)
}

// VerifyConnection checks the stored tokens against the platform and returns
// the connected account's username. Dead credentials flip the connection
// flag off so clients stop offering publish actions.
func (s *Service) VerifyConnection(ctx context.Context, userID string) (string, error) {
	tokens, err := s.PlaintextTokens(ctx, userID)
	if err != nil {
		return "", err
	}

	username, err := s.verifier.VerifyTokens(ctx, tokens.AccessToken)
	if err != nil {
		if twitter.IsAuthExpired(err) {
			if clearErr := s.users.ClearTokens(ctx, userID); clearErr != nil {
				s.logger.Error("failed to clear dead tokens", "user_id", userID, "error", clearErr)
			}
			return "", ErrNotConnected
		}
		return "", err
	}
	return username, nil
}

// RegisterDevice upserts a push registration token for the user.
func (s *Service) RegisterDevice(ctx context.Context, userID string, req models.RegisterDeviceRequest) (*models.DeviceToken, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.users.FindOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	token := &models.DeviceToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     req.Token,
		Platform:  req.Platform,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.devices.Register(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// UnregisterDevice removes one of the user's push tokens.
func (s *Service) UnregisterDevice(ctx context.Context, userID, token string) error {
	return s.devices.Unregister(ctx, userID, token)
}

// ListDevices returns every push token registered for the user.
func (s *Service) ListDevices(ctx context.Context, userID string) ([]*models.DeviceToken, error) {
	return s.devices.ListForUser(ctx, userID)
}
