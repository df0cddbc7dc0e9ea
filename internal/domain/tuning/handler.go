package tuning

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/tuning", h.Start)
	api.GET("/tuning/:id", h.Get)
}

// Start accepts a tuning request and returns 202 with a polling location.
func (h *Handler) Start(c echo.Context) error {
	var params Params
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	job, err := h.svc.Start(c.Request().Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrValidation):
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				"sample sizes must be positive")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}
	c.Response().Header().Set("Location", "/api/tuning/"+job.ID.String())
	return c.JSON(http.StatusAccepted, job)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	job, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, job)
}
