package algorithm

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/algorithm", h.List)
	api.POST("/algorithm", h.Create)
	api.GET("/algorithm/:label", h.Get)
	api.PUT("/algorithm/:label", h.Update)
	api.DELETE("/algorithm/:label", h.Delete)
}

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

func (h *Handler) List(c echo.Context) error {
	algos, err := h.svc.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if algos == nil {
		algos = []*Algorithm{}
	}
	return c.JSON(http.StatusOK, algos)
}

func (h *Handler) Get(c echo.Context) error {
	a, err := h.svc.Get(c.Request().Context(), c.Param("label"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Create(c echo.Context) error {
	var a Algorithm
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Update(c echo.Context) error {
	var a Algorithm
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.Label = c.Param("label")
	if err := h.svc.Update(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("label")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
