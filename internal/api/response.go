package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	ErrorCode string         `json:"errorCode"`
	Details   map[string]any `json:"details,omitempty"`
}

// RespondError writes err using its apperr code and status.
// Unclassified errors are logged and reported as INTERNAL_ERROR without their text.
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	if coded, ok := apperr.As(err); ok {
		c.AbortWithStatusJSON(coded.HTTPStatus(), ErrorResponse{
			Success:   false,
			Message:   coded.Error(),
			ErrorCode: coded.Code(),
			Details:   coded.Details(),
		})
		return
	}

	if logger != nil {
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Success:   false,
		Message:   "internal server error",
		ErrorCode: apperr.CodeInternal,
	})
}

// RespondBindError reports a request body that failed to bind or validate
func RespondBindError(c *gin.Context, err error) {
	details := map[string]any{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		details["fields"] = fields
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Success:   false,
		Message:   "invalid request body: " + err.Error(),
		ErrorCode: apperr.CodeValidation,
		Details:   details,
	})
}

// UUIDParam parses a path parameter as a UUID, writing a 400 when it is malformed
func UUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, nil, apperr.Validation(name, "invalid id %q", c.Param(name)))
		return uuid.Nil, false
	}
	return id, true
}
