package main

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jakekausler/campaign-manager/internal/apperrors"
)

// httpError maps a core apperrors.Kind to the HTTP status handlers.go
// hands back to Echo. The core stays transport-agnostic (apperrors'
// package doc); this mapping is the one place that decision is made.
func httpError(err error) error {
	var ae *apperrors.AppError
	if !errors.As(err, &ae) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperrors.NotFound:
		status = http.StatusNotFound
	case apperrors.BadRequest, apperrors.BeforeDivergence:
		status = http.StatusBadRequest
	case apperrors.InvalidAncestor:
		status = http.StatusBadRequest
	case apperrors.UnresolvedConflicts, apperrors.Conflict:
		status = http.StatusConflict
	case apperrors.Transient:
		status = http.StatusServiceUnavailable
	case apperrors.NotImplementedKind:
		status = http.StatusNotImplemented
	}
	return echo.NewHTTPError(status, ae.Message)
}
