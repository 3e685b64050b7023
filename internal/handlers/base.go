package handlers

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ParseDateParam parses an optional YYYY-MM-DD query parameter. ok is false when absent.
func ParseDateParam(c echo.Context, param string) (date time.Time, ok bool, err error) {
	raw := c.QueryParam(param)
	if raw == "" {
		return time.Time{}, false, nil
	}

	date, err = time.Parse(models.DateLayout, raw)
	if err != nil || date.Format(models.DateLayout) != raw {
		return time.Time{}, false, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be YYYY-MM-DD", param)
	}

	return date, true, nil
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// AcceptedResponse returns a 202 Accepted with data
func AcceptedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusAccepted, data)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// NotFound returns a 404 Not Found error
func NotFound(message string) error {
	return httperror.NewHTTPError(http.StatusNotFound, message)
}

// Conflict returns a 409 Conflict error
func Conflict(message string) error {
	return httperror.NewHTTPError(http.StatusConflict, message)
}

// Unavailable returns a 503 Service Unavailable error
func Unavailable(message string) error {
	return httperror.NewHTTPError(http.StatusServiceUnavailable, message)
}
