package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		config   *ClientConfig
		validate func(t *testing.T, client *http.Client)
	}{
		{
			name:   "nil config uses defaults",
			config: nil,
			validate: func(t *testing.T, client *http.Client) {
				if client.Timeout != 30*time.Second {
					t.Errorf("expected default timeout 30s, got %v", client.Timeout)
				}
				if client.CheckRedirect == nil {
					t.Error("expected the same-host redirect policy")
				}
			},
		},
		{
			name:   "zero timeout falls back",
			config: &ClientConfig{},
			validate: func(t *testing.T, client *http.Client) {
				if client.Timeout != 30*time.Second {
					t.Errorf("expected default timeout 30s, got %v", client.Timeout)
				}
			},
		},
		{
			name:   "custom timeout and transport",
			config: &ClientConfig{Timeout: 5 * time.Second, Transport: http.DefaultTransport},
			validate: func(t *testing.T, client *http.Client) {
				if client.Timeout != 5*time.Second || client.Transport != http.DefaultTransport {
					t.Errorf("unexpected client %+v", client)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, NewClient(tt.config))
		})
	}
}

func TestSameHostRedirects(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("token leaked to another host")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer other.Close()

	var origin *httptest.Server
	origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/moved":
			http.Redirect(w, r, origin.URL+"/final", http.StatusFound)
		case "/away":
			http.Redirect(w, r, other.URL+"/steal", http.StatusFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer origin.Close()

	client := NewClient(&ClientConfig{Timeout: 5 * time.Second})

	req, _ := http.NewRequest(http.MethodGet, origin.URL+"/moved", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("same-host redirect must be followed: %v", err)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, origin.URL+"/away", nil)
	req.Header.Set("Authorization", "Bearer secret")
	_, err = client.Do(req)
	if err == nil || !strings.Contains(err.Error(), "refusing redirect") {
		t.Fatalf("expected cross-host redirect to be refused, got %v", err)
	}
}
