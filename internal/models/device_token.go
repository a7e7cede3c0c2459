package models

import (
	"fmt"
	"strings"
	"time"
)

// DevicePlatform enumerates supported push targets.
type DevicePlatform string

const (
	PlatformIOS     DevicePlatform = "ios"
	PlatformAndroid DevicePlatform = "android"
	PlatformWeb     DevicePlatform = "web"
)

// DeviceToken binds a push-provider registration token to a user. A token
// belongs to exactly one user at a time; re-registering migrates ownership.
type DeviceToken struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Token     string         `json:"token"`
	Platform  DevicePlatform `json:"platform"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RegisterDeviceRequest is the payload for device registration.
type RegisterDeviceRequest struct {
	Token    string         `json:"token"`
	Platform DevicePlatform `json:"platform"`
}

// Validate checks the registration payload.
func (r *RegisterDeviceRequest) Validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return fmt.Errorf("token is required")
	}
	switch r.Platform {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return nil
	default:
		return fmt.Errorf("platform must be one of ios, android, web")
	}
}
