package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func Test_AuthMiddleware(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		apiKey        string
		header        string
		wantStatus    int
		wantError     string
		wantChallenge string
	}{
		{name: "disabled", apiKey: "", wantStatus: http.StatusOK},
		{
			name:          "missing header",
			apiKey:        "secret",
			wantStatus:    http.StatusUnauthorized,
			wantError:     "authorization required",
			wantChallenge: `Bearer realm="recall"`,
		},
		{
			name:          "basic scheme",
			apiKey:        "secret",
			header:        "Basic dXNlcjpwYXNz",
			wantStatus:    http.StatusUnauthorized,
			wantError:     "authorization required",
			wantChallenge: `Bearer realm="recall"`,
		},
		{
			name:          "wrong token",
			apiKey:        "secret",
			header:        "Bearer wrong-token",
			wantStatus:    http.StatusUnauthorized,
			wantError:     "invalid token",
			wantChallenge: `Bearer realm="recall" error="invalid_token"`,
		},
		{
			name:          "token prefix",
			apiKey:        "secret",
			header:        "Bearer secre",
			wantStatus:    http.StatusUnauthorized,
			wantError:     "invalid token",
			wantChallenge: `Bearer realm="recall" error="invalid_token"`,
		},
		{name: "correct token", apiKey: "secret", header: "Bearer secret", wantStatus: http.StatusOK},
		{name: "lowercase scheme", apiKey: "secret", header: "bearer secret", wantStatus: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := authMiddleware(tc.apiKey, okHandler)
			req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(`{}`))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if tc.wantError == "" {
				if got := w.Header().Get("WWW-Authenticate"); got != "" {
					t.Errorf("unexpected WWW-Authenticate %q", got)
				}
				return
			}
			if got := w.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q", got)
			}
			if got := w.Header().Get("WWW-Authenticate"); got != tc.wantChallenge {
				t.Errorf("WWW-Authenticate = %q, want %q", got, tc.wantChallenge)
			}
			body := decode[errorResponse](t, w)
			if body.Error != tc.wantError {
				t.Errorf("error = %q, want %q", body.Error, tc.wantError)
			}
			if strings.Contains(w.Body.String(), "wrong-token") {
				t.Error("presented token must not be echoed")
			}
		})
	}
}

// Test_Router_AuthRejectsBeforeHandlers checks the JSON 401 through the full
// router, so rejected requests never reach the backend.
func Test_Router_AuthRejectsBeforeHandlers(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil, func(c *Config) { c.APIKey = "secret" })

	for _, path := range []string{"/api/retrieve", "/api/qa", "/api/cache/lookup", "/api/answer"} {
		w := do(t, s, http.MethodPost, path, `{"query":"database","question":"q"}`)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, w.Code)
			continue
		}
		if body := decode[errorResponse](t, w); body.Error != "authorization required" {
			t.Errorf("%s: error = %q", path, body.Error)
		}
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
