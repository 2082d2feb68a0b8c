package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "schoolportal-backend/pkg/errors"
)

// Response represents standard API response envelope
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`    // Protocol code, e.g. "NOT_FOUND"
	Message string `json:"message"` // Human-readable error message
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Success sends a successful response
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Meta:    meta(c),
	})
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, errorCode, errorMessage string) {
	ErrorWithData(c, statusCode, errorCode, errorMessage, nil)
}

// ErrorWithData sends an error response that still carries a payload,
// e.g. the terminal session of a call nobody could take.
func ErrorWithData(c *gin.Context, statusCode int, errorCode, errorMessage string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: false,
		Data:    data,
		Error: &ErrorDetail{
			Code:    errorCode,
			Message: errorMessage,
		},
		Meta: meta(c),
	})
}

// FromError maps err to its status and protocol code. Errors that are not
// AppErrors become a generic 500.
func FromError(c *gin.Context, err error) {
	FromErrorWithData(c, err, nil)
}

// FromErrorWithData is FromError with a payload
func FromErrorWithData(c *gin.Context, err error, data interface{}) {
	if !apperrors.IsAppError(err) {
		ErrorWithData(c, http.StatusInternalServerError, "INTERNAL", "Internal server error", data)
		return
	}
	appErr := apperrors.GetAppError(err)
	ErrorWithData(c, appErr.StatusCode, appErr.ProtocolCode(), appErr.Message, data)
}

// ValidationError sends a validation error response (400)
func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "VALIDATION", message)
}

// Unauthorized sends unauthorized error (401)
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// InternalError sends internal server error (500)
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, "INTERNAL", message)
}

func meta(c *gin.Context) Meta {
	return Meta{
		Timestamp: time.Now().UTC(),
		RequestID: getRequestID(c),
	}
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
