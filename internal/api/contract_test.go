// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

var (
	openapiOnce   sync.Once
	openapiDoc    *openapi3.T
	openapiRouter routers.Router
	openapiErr    error
)

func loadOpenAPIDoc(t *testing.T) (*openapi3.T, routers.Router) {
	t.Helper()
	openapiOnce.Do(func() {
		doc, err := openapi3.NewLoader().LoadFromData(OpenAPIDocument)
		if err != nil {
			openapiErr = err
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			openapiErr = err
			return
		}
		router, err := legacy.NewRouter(doc)
		if err != nil {
			openapiErr = err
			return
		}
		openapiDoc, openapiRouter = doc, router
	})
	if openapiErr != nil {
		t.Fatalf("openapi load failed: %v", openapiErr)
	}
	return openapiDoc, openapiRouter
}

// exchange validates req against the document, serves it and validates the
// response, including that its status is documented.
func exchange(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	_, router := loadOpenAPIDoc(t)

	route, pathParams, err := router.FindRoute(req)
	require.NoError(t, err, "openapi route lookup")

	reqInput := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
	}
	require.NoError(t, openapi3filter.ValidateRequest(context.Background(), reqInput), "openapi request validation")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	respInput := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: reqInput,
		Status:                 rec.Code,
		Header:                 rec.Header(),
		Options:                &openapi3filter.Options{IncludeResponseStatus: true},
	}
	respInput.SetBodyBytes(rec.Body.Bytes())
	require.NoError(t, openapi3filter.ValidateResponse(context.Background(), respInput), "openapi response validation")
	return rec
}

func newContractRequest(method, target, contentType, body string) *http.Request {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestContract_Routes(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		wantStatus  int
	}{
		{"ready", http.MethodPost, "/api/v1/events/ready", "", "", http.StatusNoContent},
		{"show configuration", http.MethodPost, "/api/v1/events/show-configuration", "", "", http.StatusOK},
		{"show configuration redirect", http.MethodPost, "/api/v1/events/show-configuration?redirect=1", "", "", http.StatusFound},
		{"webviewclosed raw text", http.MethodPost, "/api/v1/events/webviewclosed", "text/plain", `{"invert":"1"}`, http.StatusNoContent},
		{"webviewclosed wrapped json", http.MethodPost, "/api/v1/events/webviewclosed", "application/json", `{"response":"{\"invert\":1}"}`, http.StatusNoContent},
		{"webviewclosed raw json", http.MethodPost, "/api/v1/events/webviewclosed", "application/json", `{"invert":1}`, http.StatusNoContent},
		{"webviewclosed percent encoded", http.MethodPost, "/api/v1/events/webviewclosed", "", `%7B%22invert%22%3A1%7D`, http.StatusNoContent},
		{"webviewclosed empty", http.MethodPost, "/api/v1/events/webviewclosed", "", "", http.StatusNoContent},
		{"webviewclosed malformed", http.MethodPost, "/api/v1/events/webviewclosed", "text/plain", `{invert`, http.StatusBadRequest},
		{"webviewclosed too large", http.MethodPost, "/api/v1/events/webviewclosed", "", strings.Repeat("x", maxBodyBytes+1), http.StatusRequestEntityTooLarge},
		{"webview close query", http.MethodGet, "/api/v1/webview/close?response=%7B%22invert%22%3A1%7D", "", "", http.StatusNoContent},
		{"webview close malformed query", http.MethodGet, "/api/v1/webview/close?response=%7Binvert", "", "", http.StatusBadRequest},
		{"config", http.MethodGet, "/api/v1/config", "", "", http.StatusOK},
		{"document", http.MethodGet, "/api/v1/openapi.yaml", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := exchange(t, f.server.Handler(), newContractRequest(tt.method, tt.target, tt.contentType, tt.body))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestContract_UnavailableIsDocumented(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dispatcher.Close())

	rec := exchange(t, f.server.Handler(), newContractRequest(http.MethodPost, "/api/v1/events/ready", "", ""))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// Every mounted /api/v1 route is documented and every documented operation
// is mounted.
func TestContract_RouterParity(t *testing.T) {
	doc, router := loadOpenAPIDoc(t)
	f := newFixture(t)

	err := chi.Walk(f.server.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if !strings.HasPrefix(route, "/api/v1/") || strings.HasSuffix(route, "/*") {
			return nil
		}
		_, _, err := router.FindRoute(httptest.NewRequest(method, route, nil))
		require.NoError(t, err, "undocumented route %s %s", method, route)
		return nil
	})
	require.NoError(t, err)

	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			rec := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
			require.NotEqual(t, http.StatusNotFound, rec.Code, "route not mounted: %s %s", method, path)
			require.NotEqual(t, http.StatusMethodNotAllowed, rec.Code, "route not mounted: %s %s", method, path)
		}
	}
}
