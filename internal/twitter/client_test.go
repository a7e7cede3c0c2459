package twitter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/vouse/vouse-server/internal/config"
)

func testClient(apiURL, uploadURL string) *Client {
	c := NewClient(config.TwitterConfig{ClientID: "client-id", ClientSecret: "client-secret"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if apiURL != "" {
		c.apiBaseURL = apiURL
	}
	if uploadURL != "" {
		c.uploadBaseURL = uploadURL
	}
	return c
}

func TestClientOutboundTimeout(t *testing.T) {
	client := testClient("", "")
	if client.httpClient.Timeout != 15*time.Second {
		t.Errorf("expected 15s outbound timeout, got %v", client.httpClient.Timeout)
	}
}

func TestCreateTweetSuccess(t *testing.T) {
	var gotAuth string
	var gotBody TweetRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/tweets" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"1234567890","text":"hello"}}`))
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	tweetID, err := client.CreateTweet(context.Background(), "token-abc", "hello", []string{"m1", "m2"})
	if err != nil {
		t.Fatalf("CreateTweet failed: %v", err)
	}
	if tweetID != "1234567890" {
		t.Errorf("expected tweet id 1234567890, got %s", tweetID)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody.Media == nil || len(gotBody.Media.MediaIDs) != 2 {
		t.Errorf("expected 2 media ids in request body, got %+v", gotBody.Media)
	}
}

func TestCreateTweetErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized maps to auth expired",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				if !IsAuthExpired(err) {
					t.Errorf("expected auth expired, got %v", err)
				}
			},
		},
		{
			name:   "server error maps to transient",
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				if !IsTransient(err) {
					t.Errorf("expected transient, got %v", err)
				}
			},
		},
		{
			name:   "forbidden maps to fatal",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				if IsAuthExpired(err) || IsTransient(err) {
					t.Errorf("expected fatal, got %v", err)
				}
				if _, limited := IsRateLimited(err); limited {
					t.Errorf("expected fatal, got rate limited")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"detail":"nope"}`))
			}))
			defer server.Close()

			client := testClient(server.URL, "")
			_, err := client.CreateTweet(context.Background(), "token", "text", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestCreateTweetRateLimitReset(t *testing.T) {
	resetAt := time.Now().Add(15 * time.Minute).Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(resetAt.Unix(), 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	_, err := client.CreateTweet(context.Background(), "token", "text", nil)

	got, limited := IsRateLimited(err)
	if !limited {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !got.Equal(resetAt) {
		t.Errorf("expected reset at %v, got %v", resetAt, got)
	}
}

func TestUploadMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.1/media/upload.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("media_data") == "" {
			t.Error("expected base64 media_data field")
		}
		w.Write([]byte(`{"media_id_string":"7100001"}`))
	}))
	defer server.Close()

	client := testClient("", server.URL)
	mediaID, err := client.UploadMedia(context.Background(), "token", []byte{0xff, 0xd8, 0xff})
	if err != nil {
		t.Fatalf("UploadMedia failed: %v", err)
	}
	if mediaID != "7100001" {
		t.Errorf("expected media id 7100001, got %s", mediaID)
	}
}

func TestRefreshTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/oauth2/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("expected app basic auth, got %s:%s", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %s", r.PostForm.Get("grant_type"))
		}
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":7200}`))
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	tokens, err := client.RefreshTokens(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshTokens failed: %v", err)
	}
	if tokens.AccessToken != "new-access" || tokens.RefreshToken != "new-refresh" {
		t.Errorf("unexpected tokens: %+v", tokens)
	}
	if tokens.ExpiresAt == nil || time.Until(*tokens.ExpiresAt) < time.Hour {
		t.Errorf("expected expiry roughly two hours out, got %v", tokens.ExpiresAt)
	}
}

func TestRefreshTokensWithoutRotation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"new-access","expires_in":7200}`))
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	tokens, err := client.RefreshTokens(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshTokens failed: %v", err)
	}
	if tokens.RefreshToken != "" {
		t.Errorf("expected empty refresh token, got %s", tokens.RefreshToken)
	}
}

func TestRefreshTokensRejectedGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	_, err := client.RefreshTokens(context.Background(), "dead-refresh")
	if !IsAuthExpired(err) {
		t.Fatalf("expected auth expired for rejected grant, got %v", err)
	}
}

func TestVerifyTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/users/me" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"id":"42","username":"vouse_app"}}`))
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	username, err := client.VerifyTokens(context.Background(), "token")
	if err != nil {
		t.Fatalf("VerifyTokens failed: %v", err)
	}
	if username != "vouse_app" {
		t.Errorf("expected username vouse_app, got %s", username)
	}
}

func TestGetTweetMetricsMergePrecedence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tweet.fields") == "" {
			t.Error("expected tweet.fields query parameter")
		}
		w.Write([]byte(`{"data":{
			"public_metrics":{"like_count":10,"retweet_count":3,"reply_count":2,"quote_count":1},
			"organic_metrics":{"like_count":9,"impression_count":500},
			"non_public_metrics":{"impression_count":650}
		}}`))
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	snap, err := client.GetTweetMetrics(context.Background(), "token", "1234")
	if err != nil {
		t.Fatalf("GetTweetMetrics failed: %v", err)
	}

	if snap.Impressions != 650 {
		t.Errorf("non_public impressions should win, got %d", snap.Impressions)
	}
	if snap.Likes != 9 {
		t.Errorf("organic likes should override public, got %d", snap.Likes)
	}
	if snap.Retweets != 3 || snap.Replies != 2 || snap.Quotes != 1 {
		t.Errorf("public counters should survive when unshadowed: %+v", snap)
	}
}
