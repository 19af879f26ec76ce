package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveClientIP(t *testing.T) {
	tests := []struct {
		name         string
		forwardedFor []string
		trustedHops  int
		want         string
	}{
		{name: "no proxies ignores header", forwardedFor: []string{"203.0.113.9"}, want: "192.0.2.1"},
		{name: "no header", trustedHops: 1, want: "192.0.2.1"},
		{name: "one proxy takes appended hop", forwardedFor: []string{"10.9.9.9, 203.0.113.9"}, trustedHops: 1, want: "203.0.113.9"},
		{name: "two proxies", forwardedFor: []string{"10.9.9.9, 203.0.113.9, 198.51.100.4"}, trustedHops: 2, want: "203.0.113.9"},
		{name: "repeated headers", forwardedFor: []string{"10.9.9.9", "203.0.113.9"}, trustedHops: 1, want: "203.0.113.9"},
		{name: "fewer hops than proxies", forwardedFor: []string{"203.0.113.9"}, trustedHops: 2, want: "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:40000"
			for _, value := range tt.forwardedFor {
				req.Header.Add("X-Forwarded-For", value)
			}
			if got := ResolveClientIP(req, tt.trustedHops); got != tt.want {
				t.Errorf("ResolveClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var seen string
	h := ClientIPMiddleware(0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:40000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "192.0.2.1" {
		t.Errorf("ClientIP() = %q, want remote address", seen)
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.RemoteAddr = "198.51.100.7:1234"
	if got := ClientIP(bare); got != "198.51.100.7" {
		t.Errorf("ClientIP() without middleware = %q", got)
	}
}
