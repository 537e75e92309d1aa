package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	cases := []struct {
		name        string
		origins     []string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllow   string
		wantCredits string
	}{
		{name: "listed origin", origins: []string{"http://localhost:5173/"}, origin: "http://localhost:5173", wantStatus: http.StatusTeapot, wantAllow: "http://localhost:5173", wantCredits: "true"},
		{name: "unlisted origin", origins: []string{"http://localhost:5173"}, origin: "https://evil.example", wantStatus: http.StatusTeapot},
		{name: "wildcard without credentials", origins: []string{"*"}, origin: "https://app.example", wantStatus: http.StatusTeapot, wantAllow: "*"},
		{name: "preflight short circuits", origins: []string{"https://app.example"}, origin: "https://app.example", preflight: true, wantStatus: http.StatusNoContent, wantAllow: "https://app.example", wantCredits: "true"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			method := http.MethodGet
			if tc.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/v1/runs", nil)
			req.Header.Set("Origin", tc.origin)
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			CORS(tc.origins)(next).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Fatalf("allow origin = %q, want %q", got, tc.wantAllow)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tc.wantCredits {
				t.Fatalf("allow credentials = %q, want %q", got, tc.wantCredits)
			}
			if tc.preflight && rec.Header().Get("Access-Control-Allow-Methods") == "" {
				t.Fatal("preflight without allowed methods")
			}
		})
	}
}
