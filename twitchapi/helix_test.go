package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(server *httptest.Server) *HelixClient {
	return &HelixClient{
		Tokens:   StaticToken("test-token"),
		ClientID: "test-client-id",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{
				Transport: http.DefaultTransport,
				host:      server.URL,
			},
		},
	}
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		name        string
		login       string
		data        []map[string]string
		wantUserID  string
		errContains string
		wantErr     bool
	}{
		{
			name:       "successful user lookup",
			login:      "testuser",
			data:       []map[string]string{{"id": "12345", "login": "testuser"}},
			wantUserID: "12345",
		},
		{
			name:        "user not found",
			login:       "nonexistent",
			data:        []map[string]string{},
			wantErr:     true,
			errContains: "not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if got := r.URL.Query().Get("login"); got != tt.login {
					t.Errorf("login query = %q, want %q", got, tt.login)
				}
				w.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(w).Encode(map[string]any{"data": tt.data})
			}))
			defer server.Close()

			userID, err := testClient(server).GetUserID(context.Background(), tt.login)
			if tt.wantErr {
				if err == nil {
					t.Errorf("GetUserID() error = nil, want error containing %q", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetUserID() unexpected error = %v", err)
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %q, want %q", userID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_GetModeratorsPagination(t *testing.T) {
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("broadcaster_id"); got != "b1" {
			t.Errorf("broadcaster_id = %q, want b1", got)
		}
		pages++
		w.WriteHeader(http.StatusOK)
		if r.URL.Query().Get("after") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data":       []ChatUser{{ID: "1", Login: "mod1"}},
				"pagination": map[string]string{"cursor": "next"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":       []ChatUser{{ID: "2", Login: "mod2"}},
			"pagination": map[string]string{},
		})
	}))
	defer server.Close()

	mods, err := testClient(server).GetModerators(context.Background(), "b1")
	if err != nil {
		t.Fatalf("GetModerators() error = %v", err)
	}
	if pages != 2 {
		t.Errorf("requests = %d, want 2 (cursor follow)", pages)
	}
	if len(mods) != 2 || mods[0].Login != "mod1" || mods[1].Login != "mod2" {
		t.Errorf("mods = %+v, want mod1, mod2", mods)
	}
}

func TestHelixClient_BanUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body struct {
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Data["user_id"] != "u9" {
			t.Errorf("user_id = %v, want u9", body.Data["user_id"])
		}
		if body.Data["duration"] != float64(3600) {
			t.Errorf("duration = %v, want 3600", body.Data["duration"])
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	err := testClient(server).BanUser(context.Background(), "b1", "m1", "u9", 3600)
	if err != nil {
		t.Errorf("BanUser() error = %v", err)
	}
}

func TestHelixClient_DeleteChatMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		q := r.URL.Query()
		if q.Get("message_id") != "msg-1" || q.Get("broadcaster_id") != "b1" || q.Get("moderator_id") != "m1" {
			t.Errorf("query = %v", q)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := testClient(server).DeleteChatMessage(context.Background(), "b1", "m1", "msg-1")
	if err != nil {
		t.Errorf("DeleteChatMessage() error = %v", err)
	}
}

func TestHelixClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Forbidden"}`))
	}))
	defer server.Close()

	err := testClient(server).UnbanUser(context.Background(), "b1", "m1", "u9")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("UnbanUser() error = %v, want 403 status error", err)
	}
}

func TestComputeExpiry(t *testing.T) {
	if got := ComputeExpiry(0); time.Until(got) < 59*time.Minute {
		t.Errorf("ComputeExpiry(0) = %v, want about an hour out", got)
	}
	if got := ComputeExpiry(120); time.Until(got) > 2*time.Minute+time.Second {
		t.Errorf("ComputeExpiry(120) = %v, want about two minutes out", got)
	}
}

type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
