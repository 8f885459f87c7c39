package security

import (
	"testing"
	"time"
)

func TestValidateURL_AllowedPublicURLs(t *testing.T) {
	guard := NewDownloadGuard()

	urls := []string{
		"https://storage.example.com/resumes/abc.pdf",
		"http://cdn.example.com/files/resume.docx",
		"https://8.8.8.8/file.pdf",
	}
	for _, u := range urls {
		if err := guard.ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) = %v, want nil", u, err)
		}
	}
}

func TestValidateURL_DisallowedSchemes(t *testing.T) {
	guard := NewDownloadGuard()

	urls := []string{
		"ftp://storage.example.com/file.pdf",
		"file:///etc/passwd",
		"gopher://example.com/",
		"javascript:alert(1)",
	}
	for _, u := range urls {
		if err := guard.ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) = nil, want scheme error", u)
		}
	}
}

func TestValidateURL_EmptyAndMalformed(t *testing.T) {
	guard := NewDownloadGuard()

	if err := guard.ValidateURL(""); err == nil {
		t.Error("empty URL should be rejected")
	}
	if err := guard.ValidateURL("https://"); err == nil {
		t.Error("URL without host should be rejected")
	}
}

func TestValidateURL_BlockedIPs(t *testing.T) {
	guard := NewDownloadGuard()

	tests := []struct {
		name string
		url  string
	}{
		{"loopback", "http://127.0.0.1/file.pdf"},
		{"loopback range", "http://127.0.0.53/file.pdf"},
		{"private 10/8", "http://10.1.2.3/file.pdf"},
		{"private 172.16/12", "http://172.16.0.1/file.pdf"},
		{"private 192.168/16", "http://192.168.1.10/file.pdf"},
		{"link-local", "http://169.254.0.1/file.pdf"},
		{"cloud metadata", "http://169.254.169.254/latest/meta-data"},
		{"current network", "http://0.0.0.0/file.pdf"},
		{"ipv6 loopback", "http://[::1]/file.pdf"},
		{"ipv6 link-local", "http://[fe80::1]/file.pdf"},
	}
	for _, tt := range tests {
		if err := guard.ValidateURL(tt.url); err == nil {
			t.Errorf("%s: ValidateURL(%q) = nil, want blocked", tt.name, tt.url)
		}
	}
}

func TestValidateURL_BlockedHostnames(t *testing.T) {
	guard := NewDownloadGuard()

	if err := guard.ValidateURL("http://localhost/file.pdf"); err == nil {
		t.Error("localhost should be blocked")
	}
	if err := guard.ValidateURL("http://LOCALHOST/file.pdf"); err == nil {
		t.Error("hostname check must be case-insensitive")
	}
}

func TestNewSafeClient_SetsTimeout(t *testing.T) {
	guard := NewDownloadGuard()

	client := guard.NewSafeClient(7 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClient returned nil")
	}
	if client.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v, want 7s", client.Timeout)
	}
}
