// Package apierror maps coded engine errors onto HTTP responses with the
// body shape {"code": ..., "message": ...}.
package apierror

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
)

// Body is the JSON error payload.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[engine.Code]int{
	engine.CodeValidation:         http.StatusBadRequest,
	engine.CodeOverrideReasonReq:  http.StatusBadRequest,
	engine.CodeNotDraft:           http.StatusConflict,
	engine.CodeActivationConflict: http.StatusConflict,
	engine.CodeNotFound:           http.StatusNotFound,
	engine.CodeNoRulesAvailable:   http.StatusServiceUnavailable,
}

// StatusOf returns the HTTP status for a coded error, 500 otherwise.
func StatusOf(code engine.Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// From converts err into an *echo.HTTPError. Uncoded errors become an
// opaque 500 so internal details do not leak.
func From(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		msg := ee.Message
		if ee.Code == engine.CodeNoRulesAvailable {
			// never reveal which rules failed to load
			msg = engine.ErrNoRulesAvailable.Message
		}
		return echo.NewHTTPError(StatusOf(ee.Code), Body{Code: string(ee.Code), Message: msg}).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError,
		Body{Code: "INTERNAL", Message: "internal server error"}).SetInternal(err)
}

// Handler is an echo.HTTPErrorHandler that renders every error as Body.
func Handler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		he := From(err)
		body, ok := he.Message.(Body)
		if !ok {
			body = Body{Code: codeForStatus(he.Code), Message: messageOf(he)}
		}
		if he.Code >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Path()).Int("status", he.Code).Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(he.Code)
		} else {
			err = c.JSON(he.Code, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func messageOf(he *echo.HTTPError) string {
	if s, ok := he.Message.(string); ok {
		return s
	}
	return http.StatusText(he.Code)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(engine.CodeValidation)
	case http.StatusNotFound:
		return string(engine.CodeNotFound)
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	}
	return "INTERNAL"
}
