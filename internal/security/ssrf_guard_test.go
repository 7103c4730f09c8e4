package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)
	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected custom Transport")
	}
}

// TestNewSafeClientBlocksLoopback はhttptestサーバー（127.0.0.1）への接続が拒否されることをテストする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"GitHubアバターURL", "https://avatars.githubusercontent.com/u/1?v=4", false},
		{"http公開URL", "http://example.org/me.png", false},
		{"空文字", "", true},
		{"スキームなし", "example.com/a.png", true},
		{"javascriptスキーム", "javascript:alert(1)", true},
		{"dataスキーム", "data:image/png;base64,AAAA", true},
		{"プライベートIP", "http://192.168.1.10/a.png", true},
		{"ループバック", "http://127.0.0.1/a.png", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data", true},
		{"IPv6ループバック", "http://[::1]/a.png", true},
		{"localhost", "http://LOCALHOST/a.png", true},
		{"ホストなし", "https:///a.png", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// カスタムポリシーでhttpsのみ許可できることを検証
func TestValidateURL_CustomPolicy(t *testing.T) {
	guard := NewSSRFGuardWithPolicy(URLPolicy{Schemes: []string{"https"}, Ports: []int{443}})

	if err := guard.ValidateURL("http://example.com/a.png"); err == nil {
		t.Error("http URL should be rejected by https-only policy")
	}
	if err := guard.ValidateURL("https://example.com/a.png"); err != nil {
		t.Errorf("https URL rejected: %v", err)
	}
}

func TestSSRFGuardInterface(t *testing.T) {
	var _ SSRFGuardService = NewSSRFGuard()
}
