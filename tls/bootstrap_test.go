package tls

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBootstrapServer(t *testing.T) {
	mgr, issuer := newTestManager(t)
	if err := issuer.Install(); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	fingerprint, err := mgr.CAFingerprint()
	if err != nil {
		t.Fatalf("CAFingerprint() error = %v", err)
	}

	srv := httptest.NewServer(NewBootstrapServer(mgr, 0).Handler())
	defer srv.Close()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
		wantType   string
	}{
		{"/ca.pem", http.StatusOK, "BEGIN CERTIFICATE", "application/x-pem-file"},
		{"/ca.crt", http.StatusOK, "BEGIN CERTIFICATE", "application/x-pem-file"},
		{"/fingerprint", http.StatusOK, fingerprint, "text/plain; charset=utf-8"},
		{"/", http.StatusOK, fingerprint, "text/html; charset=utf-8"},
		{"/missing", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s error = %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantType != "" && resp.Header.Get("Content-Type") != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", resp.Header.Get("Content-Type"), tt.wantType)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
		})
	}
}

func TestBootstrapServer_NoCA(t *testing.T) {
	mgr, _ := newTestManager(t)
	srv := httptest.NewServer(NewBootstrapServer(mgr, 0).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ca.pem")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}
