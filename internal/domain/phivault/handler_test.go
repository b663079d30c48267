package phivault

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/phivault/internal/platform/auth"
	"github.com/ehr/phivault/internal/platform/phi"
	"github.com/ehr/phivault/internal/platform/recognizer"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	return h, e
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestHandler_SanitizeField(t *testing.T) {
	h, e := newTestHandler()
	body := `{"subject_id":"` + phi.NewID() + `","resource_type":"journal_entry","resource_id":"` + phi.NewID() +
		`","field_path":"notes","text":"Call John Doe at 555-123-4567"}`

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/phi/sanitize", body), rec)
	if err := h.SanitizeField(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var res SanitizeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.VaultIDs) != 2 || strings.Contains(res.Text, "John") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHandler_SanitizeField_InvalidOwner(t *testing.T) {
	h, e := newTestHandler()
	body := `{"subject_id":"patient-1","resource_type":"journal_entry","resource_id":"` + phi.NewID() + `","field_path":"notes","text":"x"}`

	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
	expectHTTPError(t, h.SanitizeField(c), http.StatusBadRequest)
}

func TestHandler_SanitizeField_MissingFieldPath(t *testing.T) {
	h, e := newTestHandler()
	body := `{"subject_id":"` + phi.NewID() + `","resource_type":"note","resource_id":"` + phi.NewID() + `","text":"x"}`

	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
	expectHTTPError(t, h.SanitizeField(c), http.StatusBadRequest)
}

func TestHandler_SanitizeField_NonStringSkipped(t *testing.T) {
	h, e := newTestHandler()
	body := `{"subject_id":"` + phi.NewID() + `","resource_type":"journal_entry","resource_id":"` + phi.NewID() +
		`","field_path":"mood","text":7}`

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	if err := h.SanitizeField(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res["text"] != 7.0 {
		t.Errorf("expected value echoed unchanged, got %v", res["text"])
	}
	if ids, ok := res["vault_ids"].([]interface{}); !ok || len(ids) != 0 {
		t.Errorf("expected empty vault_ids, got %v", res["vault_ids"])
	}

	bad := `{"subject_id":"patient-1","resource_type":"journal_entry","resource_id":"` + phi.NewID() + `","field_path":"mood","text":7}`
	c = e.NewContext(jsonRequest(http.MethodPost, "/", bad), httptest.NewRecorder())
	expectHTTPError(t, h.SanitizeField(c), http.StatusBadRequest)
}

func TestHandler_SanitizeRecord_LooseStructuredPayload(t *testing.T) {
	h, e := newTestHandler()
	owner := `"subject_id":"` + phi.NewID() + `","resource_type":"journal_entry","resource_id":"` + phi.NewID() + `"`

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/",
		`{`+owner+`,"record":{"mood":3,"phi":{"legal_name":"Jane Roe","birth_year":"1990"}}}`), rec)
	if err := h.SanitizeRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res RecordResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.StructuredID == "" {
		t.Errorf("expected structured id, got %+v", res)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/",
		`{`+owner+`,"record":{"phi":"Jane Roe"}}`), httptest.NewRecorder())
	expectHTTPError(t, h.SanitizeRecord(c), http.StatusBadRequest)
}

func TestHandler_SanitizeAndDeidentifyRecord(t *testing.T) {
	h, e := newTestHandler()
	subject := phi.NewID()
	body := `{"subject_id":"` + subject + `","resource_type":"journal_entry","resource_id":"` + phi.NewID() + `",
		"record":{"notes":"John Doe took Tylenol","mood":3,"phi":{"legal_name":"John Doe"}}}`

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	if err := h.SanitizeRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res RecordResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.StructuredID == "" || len(res.VaultIDs) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := res.Record["phi"]; ok {
		t.Error("structured sub-object must not be returned")
	}

	sanitized, _ := json.Marshal(map[string]interface{}{"record": res.Record})
	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/", string(sanitized)), rec)
	if err := h.DeidentifyRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view recordRequest
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.Record["notes"] != "[Name] took Tylenol" {
		t.Errorf("unexpected notes: %v", view.Record["notes"])
	}
}

func TestHandler_Deidentify(t *testing.T) {
	h, e := newTestHandler()
	body := `{"text":"see phi:vault:PERSON:` + phi.NewID() + `"}`

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	if err := h.Deidentify(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"see [Redacted]"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_StructuredAndDemographics(t *testing.T) {
	h, e := newTestHandler()
	subject := phi.NewID()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, "/", `{"phi":{"birth_year":1980,"sex":"male","address":{"city":"Pune","state":"MH","country":"IN"}}}`), rec)
	c.SetParamNames("subject_id")
	c.SetParamValues(subject)
	if err := h.UpsertStructured(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "structured_id") {
		t.Errorf("expected structured_id, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("subject_id")
	c.SetParamValues(subject)
	if err := h.Demographics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p phi.Profile
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Location == nil || *p.Location != "MH, IN" {
		t.Errorf("unexpected location: %v", p.Location)
	}
	if strings.Contains(rec.Body.String(), "Pune") {
		t.Error("city must not leave the vault")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("subject_id")
	c.SetParamValues(phi.NewID())
	expectHTTPError(t, h.Demographics(c), http.StatusNotFound)
}

func TestHandler_SeparateStructured(t *testing.T) {
	h, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"record":{"goal":"sleep","phi":{"legal_name":"Ann Lee"}}}`), rec)
	c.SetParamNames("subject_id")
	c.SetParamValues(phi.NewID())
	if err := h.SeparateStructured(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rec.Body.String(), "Ann Lee") {
		t.Errorf("structured PHI leaked: %s", rec.Body.String())
	}
}

func TestHandler_RevealEntry_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(phi.NewID())
	expectHTTPError(t, h.RevealEntry(c), http.StatusNotFound)
}

func TestHandler_RoleGates(t *testing.T) {
	h, e := newTestHandler()
	api := e.Group("/api/v1/phi", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := strings.Split(c.Request().Header.Get("X-Test-Roles"), ",")
			ctx := auth.WithIdentity(c.Request().Context(), "user-1", roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(api)

	tests := []struct {
		name   string
		method string
		path   string
		roles  string
		want   int
	}{
		{"reader cannot sanitize", http.MethodPost, "/api/v1/phi/sanitize", auth.RolePHIReader, http.StatusForbidden},
		{"writer cannot reveal", http.MethodGet, "/api/v1/phi/entries/" + phi.NewID(), auth.RolePHIWriter, http.StatusForbidden},
		{"writer cannot read demographics", http.MethodGet, "/api/v1/phi/subjects/" + phi.NewID() + "/demographics", auth.RolePHIWriter, http.StatusForbidden},
		{"reader reads demographics", http.MethodGet, "/api/v1/phi/subjects/" + phi.NewID() + "/demographics", auth.RolePHIReader, http.StatusNotFound},
		{"admin reveals", http.MethodGet, "/api/v1/phi/entries/" + phi.NewID(), auth.RoleAdmin, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(tt.method, tt.path, `{}`)
			req.Header.Set("X-Test-Roles", tt.roles)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{phi.ErrInvalidOwner, http.StatusBadRequest},
		{fmt.Errorf("%w: got string", phi.ErrInvalidPayload), http.StatusBadRequest},
		{phi.ErrNotFound, http.StatusNotFound},
		{phi.ErrConflict, http.StatusConflict},
		{errors.Join(errors.New("analyze"), recognizer.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		expectHTTPError(t, httpError(tt.err), tt.want)
	}
}
