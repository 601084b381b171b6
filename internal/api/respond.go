package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/iamwavecut/ngtrust/internal/errors"
	"github.com/iamwavecut/ngtrust/internal/gate"
)

type errorBody struct {
	Code  apperrors.Code `json:"code"`
	Error string         `json:"error"`
}

var codeStatus = map[apperrors.Code]int{
	apperrors.CodeOK:               http.StatusOK,
	apperrors.CodeContentViolation: http.StatusUnprocessableEntity,
	apperrors.CodeUserRestricted:   http.StatusForbidden,
	apperrors.CodeUserSuspended:    http.StatusForbidden,
	apperrors.CodeUserBanned:       http.StatusForbidden,
	apperrors.CodeReviewRequired:   http.StatusServiceUnavailable,
	apperrors.CodeInvalidInput:     http.StatusBadRequest,
	apperrors.CodeNotFound:         http.StatusNotFound,
	apperrors.CodeForbidden:        http.StatusForbidden,
	apperrors.CodeConflict:         http.StatusConflict,
	apperrors.CodeUnauthorized:     http.StatusUnauthorized,
	apperrors.CodeInternalError:    http.StatusInternalServerError,
}

func statusOf(code apperrors.Code) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// fail writes the error envelope. Internal details are logged, not returned.
func fail(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	_ = c.Error(err)
	msg := err.Error()
	if code == apperrors.CodeInternalError {
		msg = "internal error"
	}
	c.JSON(statusOf(code), errorBody{Code: code, Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Code: apperrors.CodeInvalidInput, Error: msg})
}

// decision writes a gate decision with the status of its code.
func decision(c *gin.Context, d gate.Decision, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(statusOf(d.Code), d)
}
