package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testFetcher() *ImageFetcher {
	return NewImageFetcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	data, err := testFetcher().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("fetched body differs: %d bytes vs %d", len(data), len(payload))
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(w, bytes.NewReader(make([]byte, maxImageSize+1)))
	}))
	defer server.Close()

	if _, err := testFetcher().Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if _, err := testFetcher().Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestFetchRejectsEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	if _, err := testFetcher().Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for empty body")
	}
}
