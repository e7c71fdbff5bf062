package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Largonarco/RateX/pkg/errors"
)

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err        errors.GatewayError
		httpStatus int
	}{
		{errors.ErrValidation("bad"), http.StatusBadRequest},
		{errors.ErrAppNotFound("a"), http.StatusNotFound},
		{errors.ErrTicketNotFound("t"), http.StatusNotFound},
		{errors.ErrTransientStore("moved"), http.StatusServiceUnavailable},
		{errors.ErrUpstream("down"), http.StatusBadGateway},
		{errors.ErrUnauthorized("nope"), http.StatusUnauthorized},
		{errors.ErrServer("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.httpStatus, tc.err.HTTPStatus())
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, errors.IsNotFound(errors.ErrAppNotFound("a")))
	assert.False(t, errors.IsNotFound(errors.ErrValidation("v")))
	assert.True(t, errors.IsTransient(errors.ErrTransientStore("m")))
	assert.True(t, errors.IsValidation(errors.ErrInvalidStrategy("x")))
	assert.False(t, errors.IsTransient(fmt.Errorf("plain")))
}

func TestCauseChain(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := errors.ErrTransientStore("store unavailable").WithCause(cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestErrorResponseNeverLeaksInternals(t *testing.T) {
	err := errors.ErrTransientStore("MOVED 1234 10.0.0.5:6379").WithCause(fmt.Errorf("raw redis error"))
	resp := errors.ToErrorResponse(err)

	assert.NotContains(t, resp.ErrorDescription, "MOVED")
	assert.NotContains(t, resp.ErrorDescription, "10.0.0.5")

	generic := errors.ToErrorResponse(fmt.Errorf("secret detail"))
	assert.Equal(t, "server_error", generic.Error)
	assert.NotContains(t, generic.ErrorDescription, "secret")
}

func TestNodePoolExhaustedMessage(t *testing.T) {
	err := errors.ErrNodePoolExhausted()
	assert.Equal(t, "Maximum number of node IDs reached", err.Error())
}
