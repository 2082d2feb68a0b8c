package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolCode(t *testing.T) {
	assert.Equal(t, "VALIDATION", ValidationError("bad").ProtocolCode())
	assert.Equal(t, "NOT_FOUND", CallNotFoundError().ProtocolCode())
	assert.Equal(t, "INVALID_STATE", InvalidStateError("nope").ProtocolCode())
	assert.Equal(t, "BUSY", BusyError("busy").ProtocolCode())
	assert.Equal(t, "INTERNAL", InternalError("boom").ProtocolCode())
}

func TestIsCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("answer failed: %w", InvalidStateError("already declined"))

	assert.True(t, IsCode(err, ErrCodeInvalidState))
	assert.False(t, IsCode(err, ErrCodeNotFound))
	assert.True(t, IsAppError(err))
	assert.Equal(t, http.StatusConflict, GetAppError(err).StatusCode)
}

func TestGetAppError_Plain(t *testing.T) {
	appErr := GetAppError(fmt.Errorf("disk full"))

	assert.Equal(t, ErrCodeInternal, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
}
