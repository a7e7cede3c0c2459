package twitter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vouse/vouse-server/internal/config"
	"github.com/vouse/vouse-server/internal/models"
)

// Client handles Twitter API v2 interactions on behalf of connected users.
// Every call takes the user's own OAuth2 access token; the app credentials
// are only used for the token refresh grant.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger

	// Overridable for tests.
	apiBaseURL    string
	uploadBaseURL string
}

// NewClient creates a new Twitter API client.
func NewClient(cfg config.TwitterConfig, logger *slog.Logger) *Client {
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:        logger,
		apiBaseURL:    "https://api.twitter.com",
		uploadBaseURL: "https://upload.twitter.com",
	}
}

// TweetRequest represents the request to post a tweet
type TweetRequest struct {
	Text  string `json:"text"`
	Media *struct {
		MediaIDs []string `json:"media_ids"`
	} `json:"media,omitempty"`
}

// TweetResponse represents the response from Twitter API
type TweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"errors,omitempty"`
}

// CreateTweet posts a tweet, optionally attaching previously uploaded media.
// The platform returns 201 on success.
func (c *Client) CreateTweet(ctx context.Context, accessToken, text string, mediaIDs []string) (string, error) {
	tweetReq := TweetRequest{Text: text}
	if len(mediaIDs) > 0 {
		tweetReq.Media = &struct {
			MediaIDs []string `json:"media_ids"`
		}{MediaIDs: mediaIDs}
	}

	bodyBytes, err := json.Marshal(tweetReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tweet request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/2/tweets", bytes.NewBuffer(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Detail: "post tweet", Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err = io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Detail: "read tweet response", Err: err}
	}

	if resp.StatusCode != http.StatusCreated {
		return "", c.classify(resp, bodyBytes)
	}

	var tweetResp TweetResponse
	if err := json.Unmarshal(bodyBytes, &tweetResp); err != nil {
		return "", fmt.Errorf("failed to parse tweet response: %w", err)
	}
	if tweetResp.Data.ID == "" {
		return "", &FatalError{Status: resp.StatusCode, Detail: "tweet response missing id"}
	}

	c.logger.Info("tweet posted successfully",
		"tweet_id", tweetResp.Data.ID,
		"text_length", len(text),
		"media_count", len(mediaIDs))

	return tweetResp.Data.ID, nil
}

type mediaUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

// UploadMedia uploads one image via the v1.1 media endpoint and returns the
// media ID to attach to a tweet.
func (c *Client) UploadMedia(ctx context.Context, accessToken string, image []byte) (string, error) {
	form := url.Values{}
	form.Set("media_data", base64.StdEncoding.EncodeToString(image))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.uploadBaseURL+"/1.1/media/upload.json", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Detail: "upload media", Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Detail: "read upload response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.classify(resp, bodyBytes)
	}

	var uploadResp mediaUploadResponse
	if err := json.Unmarshal(bodyBytes, &uploadResp); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if uploadResp.MediaIDString == "" {
		return "", &FatalError{Status: resp.StatusCode, Detail: "upload response missing media id"}
	}

	return uploadResp.MediaIDString, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// RefreshTokens exchanges a refresh token for a fresh pair using the OAuth2
// refresh grant. The platform may omit the rotated refresh token, in which
// case the returned RefreshToken is empty and the old one stays valid.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*models.TwitterTokens, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBaseURL+"/2/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Detail: "refresh tokens", Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Detail: "read token response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		// A rejected refresh grant means the grant itself is dead, not
		// just the access token.
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, &AuthExpiredError{Detail: "refresh grant rejected"}
		}
		return nil, c.classify(resp, bodyBytes)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(bodyBytes, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, &FatalError{Status: resp.StatusCode, Detail: "token response missing access token"}
	}

	tokens := &models.TwitterTokens{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
	}
	if tokenResp.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
		tokens.ExpiresAt = &expiresAt
	}

	c.logger.Info("twitter tokens refreshed", "rotated_refresh", tokenResp.RefreshToken != "")
	return tokens, nil
}

type userResponse struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

// VerifyTokens checks that the access token is live and returns the
// connected account's username.
func (c *Client) VerifyTokens(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/2/users/me", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Detail: "verify tokens", Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Detail: "read verify response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.classify(resp, bodyBytes)
	}

	var userResp userResponse
	if err := json.Unmarshal(bodyBytes, &userResp); err != nil {
		return "", fmt.Errorf("failed to parse verify response: %w", err)
	}
	return userResp.Data.Username, nil
}

type metricsResponse struct {
	Data struct {
		PublicMetrics    map[string]int `json:"public_metrics"`
		NonPublicMetrics map[string]int `json:"non_public_metrics"`
		OrganicMetrics   map[string]int `json:"organic_metrics"`
	} `json:"data"`
}

// GetTweetMetrics fetches engagement counters for a tweet. Impression-style
// counters only appear in the non-public and organic groups, so those take
// precedence over the public group when both are present.
func (c *Client) GetTweetMetrics(ctx context.Context, accessToken, tweetID string) (models.EngagementSnapshot, error) {
	endpoint := fmt.Sprintf("%s/2/tweets/%s?tweet.fields=public_metrics,non_public_metrics,organic_metrics",
		c.apiBaseURL, url.PathEscape(tweetID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.EngagementSnapshot{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.EngagementSnapshot{}, &TransientError{Detail: "fetch tweet metrics", Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.EngagementSnapshot{}, &TransientError{Detail: "read metrics response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return models.EngagementSnapshot{}, c.classify(resp, bodyBytes)
	}

	var metricsResp metricsResponse
	if err := json.Unmarshal(bodyBytes, &metricsResp); err != nil {
		return models.EngagementSnapshot{}, fmt.Errorf("failed to parse metrics response: %w", err)
	}

	merged := map[string]int{}
	for _, group := range []map[string]int{
		metricsResp.Data.PublicMetrics,
		metricsResp.Data.OrganicMetrics,
		metricsResp.Data.NonPublicMetrics,
	} {
		for k, v := range group {
			merged[k] = v
		}
	}

	return models.EngagementSnapshot{
		Likes:       merged["like_count"],
		Retweets:    merged["retweet_count"],
		Quotes:      merged["quote_count"],
		Replies:     merged["reply_count"],
		Impressions: merged["impression_count"],
	}, nil
}

// classify maps a non-success HTTP response onto the retry taxonomy.
func (c *Client) classify(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthExpiredError{Detail: strings.TrimSpace(string(body))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{ResetAt: rateLimitReset(resp)}
	case resp.StatusCode >= 500:
		return &TransientError{Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	default:
		return &FatalError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}
}

// rateLimitReset reads the platform's reset header, falling back to a short
// fixed wait when absent.
func rateLimitReset(resp *http.Response) time.Time {
	if raw := resp.Header.Get("x-rate-limit-reset"); raw != "" {
		if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(epoch, 0)
		}
	}
	return time.Now().Add(time.Minute)
}
