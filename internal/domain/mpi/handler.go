package mpi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/seed", h.Seed)
	api.DELETE("/seed", h.Reset)

	api.GET("/person/:ref", h.GetPerson)
	api.POST("/person", h.CreatePerson)
	api.PATCH("/person/:ref", h.MergePersons)
	api.DELETE("/person/:ref", h.DeletePerson)

	api.GET("/patient/:ref", h.GetPatient)
	api.PATCH("/patient/:ref", h.UpdatePatient)
	api.DELETE("/patient/:ref", h.DeletePatient)
	api.GET("/patient/orphaned", h.Orphans)
}

// httpError maps domain sentinels to status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func parseRef(c echo.Context) (uuid.UUID, error) {
	ref, err := uuid.Parse(c.Param("ref"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid reference id")
	}
	return ref, nil
}

// Seed loads up to MaxSeedClusters pre-grouped clusters in one transaction.
func (h *Handler) Seed(c echo.Context) error {
	var group ClusterGroup
	if err := c.Bind(&group); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Seed(c.Request().Context(), &group)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Reset(c echo.Context) error {
	if err := h.svc.Reset(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetPerson(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	person, err := h.svc.GetPerson(c.Request().Context(), ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, person)
}

type movePatientsRequest struct {
	Patients []uuid.UUID `json:"patients"`
}

// CreatePerson makes a new person from existing patients.
func (h *Handler) CreatePerson(c echo.Context) error {
	var req movePatientsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	person, err := h.svc.MovePatients(c.Request().Context(), req.Patients, nil)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, person)
}

// MergePersons moves the given patients under an existing person.
func (h *Handler) MergePersons(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	var req movePatientsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	person, err := h.svc.MovePatients(c.Request().Context(), req.Patients, &ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, person)
}

func (h *Handler) DeletePerson(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePerson(c.Request().Context(), ref); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetPatient(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	patient, err := h.svc.GetPatient(c.Request().Context(), ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patient)
}

type updatePatientRequest struct {
	Record            *pii.Record `json:"record,omitempty"`
	ExternalPatientID *string     `json:"external_patient_id,omitempty"`
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	var req updatePatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patient, err := h.svc.UpdatePatient(c.Request().Context(), ref, req.Record, req.ExternalPatientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patient)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), ref); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type orphansResponse struct {
	Patients []*Patient `json:"patients"`
	// Cursor points past the last returned patient; absent on the last page.
	Cursor *uuid.UUID `json:"cursor,omitempty"`
}

func (h *Handler) Orphans(c echo.Context) error {
	limit := 100
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be 1..1000")
		}
		limit = n
	}
	var cursor *uuid.UUID
	if s := c.QueryParam("cursor"); s != "" {
		ref, err := uuid.Parse(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cursor")
		}
		cursor = &ref
	}
	patients, err := h.svc.Orphans(c.Request().Context(), limit, cursor)
	if err != nil {
		return httpError(err)
	}
	resp := orphansResponse{Patients: patients}
	if len(patients) == limit {
		last := patients[len(patients)-1].ReferenceID
		resp.Cursor = &last
	}
	return c.JSON(http.StatusOK, resp)
}
