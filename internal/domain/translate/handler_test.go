package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/cql2omop/cql2omop/internal/domain/placeholder"
	"github.com/cql2omop/cql2omop/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.svc, map[string]string{"VSAC_USERNAME": "NOT SET"})
	return h, f, echo.New()
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	var b []byte
	switch v := body.(type) {
	case string:
		b = []byte(v)
	default:
		b, _ = json.Marshal(v)
	}
	req := httptest.NewRequest(method, target, strings.NewReader(string(b)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
	return httpErr
}

// =========== Translate Handler Tests ===========

func TestHandler_Translate_Success(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := jsonRequest(http.MethodPost, "/api/v1/translate", map[string]interface{}{
		"cql_text":      measureCQL,
		"dialect":       "postgresql",
		"vsac_username": "user",
		"vsac_password": "secret",
	})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Translate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Success    bool    `json:"success"`
		FinalSQL   *string `json:"final_sql"`
		Statistics struct {
			ValueSetsExtracted   int   `json:"valuesets_extracted"`
			PlaceholdersReplaced int   `json:"placeholders_replaced"`
			ValidationPassed     *bool `json:"validation_passed"`
		} `json:"statistics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.FinalSQL == nil {
		t.Fatalf("expected successful translation, got %s", rec.Body.String())
	}
	if resp.Statistics.ValueSetsExtracted != 2 || resp.Statistics.PlaceholdersReplaced != 3 {
		t.Errorf("unexpected statistics: %+v", resp.Statistics)
	}
	// validate defaults to true when omitted
	if resp.Statistics.ValidationPassed == nil {
		t.Error("expected validation to run by default")
	}
}

func TestHandler_Translate_MissingCredentials(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := jsonRequest(http.MethodPost, "/api/v1/translate", map[string]interface{}{"cql_text": measureCQL})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	httpErr := expectHTTPError(t, h.Translate(c), http.StatusBadRequest)
	msg, ok := httpErr.Message.(map[string]interface{})
	if !ok {
		t.Fatalf("expected structured message, got %T", httpErr.Message)
	}
	if msg["code"] != "AUTH_REQUIRED" {
		t.Errorf("expected AUTH_REQUIRED, got %v", msg["code"])
	}
	if msg["suggestion"] == nil {
		t.Error("expected a suggestion")
	}
}

func TestHandler_Translate_DatabaseUnavailable(t *testing.T) {
	_, f, e := newTestHandler(t)
	h := NewHandler(f.build(Deps{}), nil)

	req := jsonRequest(http.MethodPost, "/api/v1/translate", map[string]interface{}{
		"cql_text":      measureCQL,
		"vsac_username": "user",
		"vsac_password": "secret",
	})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectHTTPError(t, h.Translate(c), http.StatusServiceUnavailable)
}

func TestHandler_Translate_BadRequest(t *testing.T) {
	h, _, e := newTestHandler(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{not json"},
		{"empty cql", map[string]interface{}{"cql_text": ""}},
		{"unknown dialect", map[string]interface{}{"cql_text": measureCQL, "dialect": "oracle"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(http.MethodPost, "/api/v1/translate", tt.body)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			expectHTTPError(t, h.Translate(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_Translate_IgnoresLibraryDirInBody(t *testing.T) {
	h, _, e := newTestHandler(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Secret.cql"), []byte("library Secret version '1'"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := jsonRequest(http.MethodPost, "/api/v1/translate", map[string]interface{}{
		"cql_text":      "include Secret version '1'\n" + measureCQL,
		"library_dir":   dir,
		"vsac_username": "user",
		"vsac_password": "secret",
	})
	rec := httptest.NewRecorder()
	if err := h.Translate(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		MissingLibraries []string `json:"missing_libraries"`
		Statistics       struct {
			LibrariesProcessed int `json:"libraries_processed"`
		} `json:"statistics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Statistics.LibrariesProcessed != 0 {
		t.Errorf("expected no library read from a request-supplied directory, got %d", resp.Statistics.LibrariesProcessed)
	}
	if len(resp.MissingLibraries) != 1 || resp.MissingLibraries[0] != "Secret" {
		t.Errorf("expected Secret to be missing, got %v", resp.MissingLibraries)
	}
}

// =========== Extract / Finalize / Scan Handler Tests ===========

func TestHandler_Extract(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := jsonRequest(http.MethodPost, "/api/v1/extract", map[string]interface{}{
		"cql_text":      measureCQL,
		"vsac_username": "user",
		"vsac_password": "secret",
	})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Extract(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp ExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.PlaceholderMappings) != 3 {
		t.Errorf("expected 3 mappings, got %v", resp.PlaceholderMappings)
	}
}

func TestHandler_Finalize(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := jsonRequest(http.MethodPost, "/api/v1/finalize", map[string]interface{}{
		"sql":                  "SELECT * FROM t WHERE c IN (PLACEHOLDER_A) OR d IN (PLACEHOLDER_B)",
		"placeholder_mappings": map[string][]string{"PLACEHOLDER_A": {"1", "2"}},
		"dialect":              "bigquery",
	})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Finalize(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res placeholder.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Success {
		t.Error("expected failure with an unmapped token")
	}
	if len(res.Unmapped) != 1 || res.Unmapped[0] != "PLACEHOLDER_B" {
		t.Errorf("unexpected unmapped: %v", res.Unmapped)
	}
	if !strings.Contains(res.SQL, "c IN (1, 2)") {
		t.Errorf("expected mapped token to be replaced, got %q", res.SQL)
	}
}

func TestHandler_Scan(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := jsonRequest(http.MethodPost, "/api/v1/valuesets/scan", map[string]interface{}{"cql_text": measureCQL})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Scan(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res ScanResponse
	json.Unmarshal(rec.Body.Bytes(), &res)
	if len(res.OIDs) != 2 {
		t.Errorf("expected 2 oids, got %v", res.OIDs)
	}

	req = jsonRequest(http.MethodPost, "/api/v1/valuesets/scan", map[string]interface{}{})
	rec = httptest.NewRecorder()
	expectHTTPError(t, h.Scan(e.NewContext(req, rec)), http.StatusBadRequest)
}

func TestHandler_LookupCode(t *testing.T) {
	h, f, e := newTestHandler(t)

	req := jsonRequest(http.MethodPost, "/api/v1/codes/lookup", map[string]interface{}{"system": "LOINC", "code": "4548-4"})
	rec := httptest.NewRecorder()
	if err := h.LookupCode(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp CodeLookupResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Mapped || resp.Display != "display 4548-4" || len(resp.Concepts.Mapped) != 1 {
		t.Errorf("unexpected lookup response: %s", rec.Body.String())
	}

	req = jsonRequest(http.MethodPost, "/api/v1/codes/lookup", map[string]interface{}{"system": "LOINC"})
	rec = httptest.NewRecorder()
	expectHTTPError(t, h.LookupCode(e.NewContext(req, rec)), http.StatusBadRequest)

	noDB := NewHandler(f.build(Deps{}), nil)
	req = jsonRequest(http.MethodPost, "/api/v1/codes/lookup", map[string]interface{}{"system": "LOINC", "code": "4548-4"})
	rec = httptest.NewRecorder()
	expectHTTPError(t, noDB.LookupCode(e.NewContext(req, rec)), http.StatusServiceUnavailable)
}

// =========== Cache / Status Handler Tests ===========

func TestHandler_Cache(t *testing.T) {
	h, f, e := newTestHandler(t)
	if _, err := f.svc.Translate(context.Background(), translateRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := h.CacheStats(e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/cache", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"size":2`) {
		t.Errorf("expected size 2, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if err := h.ClearCache(e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"cleared":2`) {
		t.Errorf("expected 2 cleared, got %s", rec.Body.String())
	}
}

func TestHandler_Status(t *testing.T) {
	h, _, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	if err := h.Status(e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r StatusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if r.VocabularyDB != "healthy" || r.Environment["VSAC_USERNAME"] != "NOT SET" {
		t.Errorf("unexpected status: %+v", r)
	}
}

// =========== Route Tests ===========

func TestHandler_RoutesRequireScopes(t *testing.T) {
	h, _, e := newTestHandler(t)
	withScopes := func(scopes ...string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				ctx := c.Request().Context()
				c.SetRequest(c.Request().WithContext(context.WithValue(ctx, auth.ScopesKey, scopes)))
				return next(c)
			}
		}
	}

	translateOnly := e.Group("/a", withScopes(auth.ScopeTranslate))
	h.RegisterRoutes(translateOnly)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/a/cache", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for cache admin without scope, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/a/valuesets/scan", map[string]interface{}{"cql_text": measureCQL}))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for scan with translate scope, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/a/codes/lookup", map[string]interface{}{"system": "LOINC", "code": "4548-4"}))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for code lookup with translate scope, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for status, got %d", rec.Code)
	}

	none := e.Group("/b", withScopes())
	h.RegisterRoutes(none)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/b/finalize", map[string]interface{}{"sql": "SELECT 1"}))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for finalize without scope, got %d", rec.Code)
	}
}

func TestHandler_Translate_CancelledKeepsCause(t *testing.T) {
	h, _, e := newTestHandler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := jsonRequest(http.MethodPost, "/api/v1/translate", map[string]interface{}{"cql_text": measureCQL}).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Translate(c)
	expectHTTPError(t, err, http.StatusInternalServerError)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected the cancellation to stay reachable, got %v", err)
	}
}
