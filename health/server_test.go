package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestRegister_Handlers(t *testing.T) {
	type want struct {
		code int
		body string
	}
	tests := []struct {
		name string
		path string
		want want
	}{
		{name: "healthz ok", path: "/healthz", want: want{code: http.StatusOK, body: "ok"}},
		{name: "readyz ok", path: "/readyz", want: want{code: http.StatusOK, body: "ready"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			Register(mux, "0.1.0", nil)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.want.code {
				t.Errorf("status code mismatch\n got=%#v\nwant=%#v", rec.Code, tt.want.code)
			}
			if body := rec.Body.String(); body != tt.want.body {
				t.Errorf("body mismatch\n got=%#v\nwant=%#v", body, tt.want.body)
			}
		})
	}
}

func TestRegister_Statusz(t *testing.T) {
	tests := []struct {
		name     string
		snapshot func() map[string]int
		want     Status
	}{
		{
			name:     "nil provider",
			snapshot: nil,
			want:     Status{Healthy: true, Version: "0.1.0", ActiveMatches: 0},
		},
		{
			name:     "with matches",
			snapshot: func() map[string]int { return map[string]int{"pong": 2, "chess": 1} },
			want: Status{
				Healthy:       true,
				Version:       "0.1.0",
				ActiveMatches: 3,
				ByEnvironment: map[string]int{"pong": 2, "chess": 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			Register(mux, "0.1.0", tt.snapshot)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/statusz", nil)
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status code mismatch\n got=%#v\nwant=%#v", rec.Code, http.StatusOK)
			}
			var got Status
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal err: %#v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("statusz mismatch\n got=%#v\nwant=%#v", got, tt.want)
			}
		})
	}
}
