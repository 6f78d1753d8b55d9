package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// echoHandler отвечает телом запроса с тем же Content-Type.
func echoHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		if ct := r.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(status)
		if status != http.StatusNoContent {
			_, _ = w.Write([]byte("echo: " + string(body)))
		}
	}
}

func gzipped(t *testing.T, s string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(res.Body)
		if err != nil {
			t.Fatalf("new gzip reader: %v", err)
		}
		defer zr.Close()
		r = zr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestGzipMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		compressBody   bool
		acceptEncoding string
		contentType    string
		status         int
		wantEncoding   string
		wantBody       string
	}{
		{
			name:           "json tool call compressed",
			body:           `{"claim_id":"CCP000001"}`,
			acceptEncoding: "gzip, deflate",
			contentType:    "application/json",
			status:         http.StatusOK,
			wantEncoding:   "gzip",
			wantBody:       `echo: {"claim_id":"CCP000001"}`,
		},
		{
			name:           "plain text compressed",
			body:           "policy",
			acceptEncoding: "gzip",
			contentType:    "text/plain; charset=utf-8",
			status:         http.StatusOK,
			wantEncoding:   "gzip",
			wantBody:       "echo: policy",
		},
		{
			name:         "client does not accept gzip",
			body:         `{"city":"Pune"}`,
			contentType:  "application/json",
			status:       http.StatusOK,
			wantEncoding: "",
			wantBody:     `echo: {"city":"Pune"}`,
		},
		{
			name:           "binary content left alone",
			body:           "png",
			acceptEncoding: "gzip",
			contentType:    "image/png",
			status:         http.StatusOK,
			wantEncoding:   "",
			wantBody:       "echo: png",
		},
		{
			name:           "no content is not compressed",
			acceptEncoding: "gzip",
			contentType:    "application/json",
			status:         http.StatusNoContent,
			wantEncoding:   "",
			wantBody:       "",
		},
		{
			name:           "compressed request body",
			body:           `{"vehicle_registration":"KA01AB1234"}`,
			compressBody:   true,
			acceptEncoding: "gzip",
			contentType:    "application/json",
			status:         http.StatusOK,
			wantEncoding:   "gzip",
			wantBody:       `echo: {"vehicle_registration":"KA01AB1234"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.body)
			if tt.compressBody {
				body = gzipped(t, tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/tools/get_claim_status", body)
			req.Header.Set("Content-Type", tt.contentType)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			if tt.compressBody {
				req.Header.Set("Content-Encoding", "gzip")
			}

			w := httptest.NewRecorder()
			GzipMiddleware(echoHandler(tt.status)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.status {
				t.Fatalf("status: got %d want %d", res.StatusCode, tt.status)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.wantEncoding {
				t.Fatalf("content-encoding: got %q want %q", ce, tt.wantEncoding)
			}
			if got := readBody(t, res); got != tt.wantBody {
				t.Fatalf("body: got %q want %q", got, tt.wantBody)
			}
		})
	}
}

func TestGzipMiddlewareRejectsCorruptBody(t *testing.T) {
	called := false
	h := GzipMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Fatalf("next handler called for corrupt body")
	}
}
