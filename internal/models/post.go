package models

import (
	"fmt"
	"strings"
	"time"
)

// PostStatus enumerates the post lifecycle states.
type PostStatus string

const (
	PostStatusDraft      PostStatus = "draft"
	PostStatusScheduled  PostStatus = "scheduled"
	PostStatusPublishing PostStatus = "publishing"
	PostStatusPublished  PostStatus = "published"
	PostStatusFailed     PostStatus = "failed"
)

// MaxContentLength is the Twitter/X character limit.
const MaxContentLength = 280

// MaxImages is the Twitter/X per-tweet media limit.
const MaxImages = 4

// Location is an optional geotag attached to a post.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Address   string  `json:"address,omitempty"`
}

// Validate checks coordinate bounds.
func (l *Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude must be within [-90, 90]")
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude must be within [-180, 180]")
	}
	return nil
}

// Post is the durable post record owned by exactly one user.
type Post struct {
	ID            string     `json:"id"`
	PostIDLocal   string     `json:"postIdLocal"`
	PostIDX       string     `json:"postIdX,omitempty"`
	UserID        string     `json:"userId"`
	Content       string     `json:"content"`
	Title         string     `json:"title,omitempty"`
	Visibility    string     `json:"visibility,omitempty"`
	CloudImageURLs []string  `json:"cloudImageUrls,omitempty"`
	Location      *Location  `json:"location,omitempty"`
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	Status        PostStatus `json:"status"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// legalTransitions encodes the state machine edges driven by workers and
// updates. Creation edges (draft/scheduled) are handled at insert time.
var legalTransitions = map[PostStatus][]PostStatus{
	PostStatusDraft:      {PostStatusScheduled},
	PostStatusScheduled:  {PostStatusDraft, PostStatusScheduled, PostStatusPublishing},
	PostStatusPublishing: {PostStatusScheduled, PostStatusPublished, PostStatusFailed},
	PostStatusFailed:     {PostStatusScheduled},
}

// CanTransition reports whether moving from one status to another is a legal
// state-machine edge.
func CanTransition(from, to PostStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Deletable reports whether a post in the given status may be removed.
// Deleting mid-publish would race the worker's external side effects.
func Deletable(status PostStatus) bool {
	return status != PostStatusPublishing
}

// CreatePostRequest is the payload for POST /posts.
type CreatePostRequest struct {
	PostIDLocal    string     `json:"postIdLocal"`
	Content        string     `json:"content"`
	Title          string     `json:"title,omitempty"`
	Visibility     string     `json:"visibility,omitempty"`
	CloudImageURLs []string   `json:"cloudImageUrls,omitempty"`
	Location       *Location  `json:"location,omitempty"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
}

// Validate enforces content and media constraints before persistence.
func (r *CreatePostRequest) Validate(now time.Time) error {
	if strings.TrimSpace(r.PostIDLocal) == "" {
		return fmt.Errorf("postIdLocal is required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if len([]rune(r.Content)) > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", MaxContentLength)
	}
	if len(r.CloudImageURLs) > MaxImages {
		return fmt.Errorf("at most %d images are allowed", MaxImages)
	}
	if r.Location != nil {
		if err := r.Location.Validate(); err != nil {
			return err
		}
	}
	if r.ScheduledAt != nil && !r.ScheduledAt.After(now) {
		return fmt.Errorf("scheduledAt must be in the future")
	}
	return nil
}

// UpdatePostRequest is the payload for PATCH /posts/{id}. Pointer fields
// distinguish "absent" from "set to zero"; ClearScheduledAt reverts a
// scheduled post to draft.
type UpdatePostRequest struct {
	Content         *string    `json:"content,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Visibility      *string    `json:"visibility,omitempty"`
	CloudImageURLs  *[]string  `json:"cloudImageUrls,omitempty"`
	Location        *Location  `json:"location,omitempty"`
	ScheduledAt     *time.Time `json:"scheduledAt,omitempty"`
	ClearScheduledAt bool      `json:"clearScheduledAt,omitempty"`
}

// Validate enforces the same content constraints as creation for any field
// present in the patch.
func (r *UpdatePostRequest) Validate(now time.Time) error {
	if r.Content != nil {
		if strings.TrimSpace(*r.Content) == "" {
			return fmt.Errorf("content cannot be empty")
		}
		if len([]rune(*r.Content)) > MaxContentLength {
			return fmt.Errorf("content exceeds %d characters", MaxContentLength)
		}
	}
	if r.CloudImageURLs != nil && len(*r.CloudImageURLs) > MaxImages {
		return fmt.Errorf("at most %d images are allowed", MaxImages)
	}
	if r.Location != nil {
		if err := r.Location.Validate(); err != nil {
			return err
		}
	}
	if r.ScheduledAt != nil && r.ClearScheduledAt {
		return fmt.Errorf("scheduledAt and clearScheduledAt are mutually exclusive")
	}
	if r.ScheduledAt != nil && !r.ScheduledAt.After(now) {
		return fmt.Errorf("scheduledAt must be in the future")
	}
	return nil
}
