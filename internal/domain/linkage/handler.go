package linkage

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/mpi"
	"github.com/CDCgov/RecordLinker-sub000/internal/platform/fhir"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/link", h.Link)
	api.POST("/link/fhir", h.LinkFHIR)
}

type linkRequest struct {
	Record            *pii.Record `json:"record"`
	Algorithm         string      `json:"algorithm,omitempty"`
	ExternalPatientID *string     `json:"external_patient_id,omitempty"`
	ExternalPersonID  *string     `json:"external_person_id,omitempty"`
}

func (h *Handler) Link(c echo.Context) error {
	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Record == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "record is required")
	}
	resp, err := h.engine.Link(c.Request().Context(), req.Record, req.Algorithm,
		req.ExternalPatientID, req.ExternalPersonID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

type linkFHIRRequest struct {
	Bundle            map[string]any `json:"bundle"`
	Algorithm         string         `json:"algorithm,omitempty"`
	ExternalPatientID *string        `json:"external_patient_id,omitempty"`
	ExternalPersonID  *string        `json:"external_person_id,omitempty"`
}

// LinkFHIR accepts a FHIR bundle, extracts its Patient resource, and links
// the converted record.
func (h *Handler) LinkFHIR(c echo.Context) error {
	var req linkFHIRRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest,
			fhir.NewOperationOutcome(fhir.IssueTypeStructure, err.Error()))
	}
	record, err := fhir.BundleToRecord(req.Bundle)
	if err != nil {
		if errors.Is(err, fhir.ErrNoPatientResource) {
			return c.JSON(http.StatusUnprocessableEntity,
				fhir.NewOperationOutcome(fhir.IssueTypeRequired, err.Error()))
		}
		return c.JSON(http.StatusBadRequest,
			fhir.NewOperationOutcome(fhir.IssueTypeProcessing, err.Error()))
	}
	resp, err := h.engine.Link(c.Request().Context(), record, req.Algorithm,
		req.ExternalPatientID, req.ExternalPersonID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// httpError maps the engine's sentinels, including the MPI store errors its
// insert path can surface, to status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNoAlgorithm), errors.Is(err, mpi.ErrValidation):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, mpi.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, mpi.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
