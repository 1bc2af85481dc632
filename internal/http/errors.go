package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.ProviderUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CollectionNotFound:
		return http.StatusNotFound
	case apperr.GenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse converts err to a status and a body that never includes
// the wrapped cause.
func errorResponse(err error) (int, ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := string(apperr.Internal)
		switch {
		case he.Code == http.StatusNotFound:
			kind = "not_found"
		case he.Code == http.StatusMethodNotAllowed:
			kind = "method_not_allowed"
		case he.Code < http.StatusInternalServerError:
			kind = string(apperr.InvalidArgument)
		}
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		} else if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, ErrorResponse{Kind: kind, Message: msg}
	}

	kind, msg := apperr.Public(err)
	return StatusFor(kind), ErrorResponse{Kind: string(kind), Message: msg}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := errorResponse(err)
	c.Set(errorKindKey, body.Kind)
	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug(ctx, "request rejected", zap.Int("status", status), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn(ctx, "failed to write error response", zap.Error(err))
	}
}

func invalid(msg string) error {
	return apperr.New(apperr.InvalidArgument, msg)
}
