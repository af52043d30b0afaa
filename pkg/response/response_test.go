package response

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"mealsub/internal/service"

	"github.com/stretchr/testify/assert"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, CodeSuccess},
		{service.ErrInsufficientCredit, CodeInsufficientCredit},
		{fmt.Errorf("%w: pending -> pending", service.ErrInvalidTransition), CodeInvalidTransition},
		{service.ErrAmountMismatch, CodeAmountMismatch},
		{service.ErrAlreadySettled, CodeConflict},
		{service.ErrNotFound, CodeNotFound},
		{service.ErrGatewayCallFailed, CodeGatewayError},
		{service.ErrStorageUnavailable, CodeUnavailable},
		{service.ErrInsufficientDates, CodeInsufficientDates},
		{service.ErrProductUnavailable, CodeProductUnavailable},
		{service.ErrInvalidArgument, CodeParamError},
		{fmt.Errorf("%w: %w", service.ErrScheduleFailed, service.ErrInsufficientDates), CodeScheduleFailed},
		{errors.New("boom"), CodeServerError},
	}
	for _, tt := range tests {
		code, _ := FromError(tt.err)
		assert.Equal(t, tt.code, code, "%v", tt.err)
	}
}

func TestFromError_HidesInternalDetail(t *testing.T) {
	_, msg := FromError(fmt.Errorf("%w: dial tcp 10.0.0.1:3306", service.ErrStorageUnavailable))
	assert.Equal(t, service.ErrStorageUnavailable.Error(), msg)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(service.ErrInvalidArgument))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(service.ErrStorageUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(service.ErrGatewayCallFailed))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}
