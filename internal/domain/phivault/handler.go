package phivault

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/phivault/internal/platform/auth"
	"github.com/ehr/phivault/internal/platform/phi"
	"github.com/ehr/phivault/internal/platform/recognizer"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the PHI routes on api, normally /api/v1/phi.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Write endpoints – admin, phi_writer
	writeGroup := api.Group("", auth.RequireRole(auth.RolePHIWriter))
	writeGroup.POST("/sanitize", h.SanitizeField)
	writeGroup.POST("/records/sanitize", h.SanitizeRecord)
	writeGroup.PUT("/subjects/:subject_id/structured", h.UpsertStructured)
	writeGroup.POST("/subjects/:subject_id/separate", h.SeparateStructured)

	// Read endpoints – admin, phi_reader
	readGroup := api.Group("", auth.RequireRole(auth.RolePHIReader))
	readGroup.POST("/deidentify", h.Deidentify)
	readGroup.POST("/records/deidentify", h.DeidentifyRecord)
	readGroup.GET("/subjects/:subject_id/demographics", h.Demographics)

	// Raw values – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.GET("/entries/:id", h.RevealEntry)
}

type ownerRequest struct {
	SubjectID        string   `json:"subject_id"`
	ResourceType     string   `json:"resource_type"`
	ResourceID       string   `json:"resource_id"`
	KnownIdentifiers []string `json:"known_identifiers,omitempty"`
}

func (r ownerRequest) owner() phi.Owner {
	return phi.Owner{SubjectID: r.SubjectID, ResourceType: r.ResourceType, ResourceID: r.ResourceID}
}

type sanitizeFieldRequest struct {
	ownerRequest
	FieldPath string      `json:"field_path"`
	Text      interface{} `json:"text"`
}

// skippedField echoes a non-string field value back unchanged.
type skippedField struct {
	Text     interface{} `json:"text"`
	VaultIDs []string    `json:"vault_ids"`
}

type sanitizeRecordRequest struct {
	ownerRequest
	StructuredID string                 `json:"structured_id,omitempty"`
	Record       map[string]interface{} `json:"record"`
}

type textRequest struct {
	Text string `json:"text"`
}

type recordRequest struct {
	Record map[string]interface{} `json:"record"`
}

type structuredRequest struct {
	StructuredID string             `json:"structured_id,omitempty"`
	PHI          *phi.StructuredPHI `json:"phi"`
}

type separateRequest struct {
	StructuredID string                 `json:"structured_id,omitempty"`
	Record       map[string]interface{} `json:"record"`
}

func (h *Handler) SanitizeField(c echo.Context) error {
	var req sanitizeFieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FieldPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "field_path is required")
	}
	text, ok := req.Text.(string)
	if !ok {
		if err := req.owner().Validate(); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, skippedField{Text: req.Text, VaultIDs: []string{}})
	}
	res, err := h.svc.DetectAndFilter(c.Request().Context(), req.owner(), req.FieldPath, text, req.KnownIdentifiers)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) SanitizeRecord(c echo.Context) error {
	var req sanitizeRecordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Record == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record is required")
	}
	res, err := h.svc.SanitizeRecord(c.Request().Context(), req.owner(), req.StructuredID, req.Record, req.KnownIdentifiers)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Deidentify(c echo.Context) error {
	var req textRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, textRequest{Text: h.svc.Deidentify(c.Request().Context(), req.Text)})
}

func (h *Handler) DeidentifyRecord(c echo.Context) error {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Record == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record is required")
	}
	return c.JSON(http.StatusOK, recordRequest{Record: h.svc.DeidentifyRecord(c.Request().Context(), req.Record)})
}

func (h *Handler) UpsertStructured(c echo.Context) error {
	var req structuredRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PHI == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "phi is required")
	}
	id, err := h.svc.UpsertStructured(c.Request().Context(), c.Param("subject_id"), req.StructuredID, req.PHI)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"structured_id": id})
}

func (h *Handler) SeparateStructured(c echo.Context) error {
	var req separateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Record == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record is required")
	}
	sep, err := h.svc.SeparateStructuredPHI(c.Request().Context(), c.Param("subject_id"), req.StructuredID, req.Record)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sep)
}

func (h *Handler) Demographics(c echo.Context) error {
	profile, err := h.svc.Demographics(c.Request().Context(), c.Param("subject_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) RevealEntry(c echo.Context) error {
	entry, err := h.svc.RevealEntry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// httpError maps service errors to status codes. Unexpected errors are
// logged by the request logger, not echoed.
func httpError(err error) error {
	switch {
	case errors.Is(err, phi.ErrInvalidOwner), errors.Is(err, phi.ErrInvalidPayload):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, phi.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, phi.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "conflicting structured vault entry")
	case errors.Is(err, recognizer.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "entity recognition unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
