package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorChaining(t *testing.T) {
	ErrBase := New("base error")
	assert.Equal(t, "base error", ErrBase.Error())
	assert.Equal(t, "msg", ErrBase.New("msg").Error())
	assert.ErrorIs(t, ErrBase, ErrBase)

	ErrDerived := ErrBase.New("derived error")
	assert.Equal(t, "derived error", ErrDerived.Error())
	assert.ErrorIs(t, ErrDerived, ErrBase)

	ErrWithDetail := ErrDerived.Msg("call-site detail")
	assert.Equal(t, "call-site detail", ErrWithDetail.Error())
	assert.ErrorIs(t, ErrWithDetail, ErrDerived)
	assert.ErrorIs(t, ErrWithDetail, ErrBase)
}

func TestErrWrapsCauses(t *testing.T) {
	ErrBase := New("store unavailable")
	cause := fmt.Errorf("dial tcp: connection refused")
	wrapped := ErrBase.Err(cause)

	assert.Equal(t, "store unavailable", wrapped.Error())
	assert.ErrorIs(t, wrapped, ErrBase)
	assert.ErrorIs(t, wrapped, cause)

	another := errors.New("second cause")
	both := ErrBase.Err(cause, another)
	assert.ErrorIs(t, both, cause)
	assert.ErrorIs(t, both, another)
}

func TestMsgErr(t *testing.T) {
	ErrBase := New("base error")
	cause := errors.New("root cause")
	err := ErrBase.MsgErr("operation failed", cause)

	assert.Equal(t, "operation failed", err.Error())
	assert.ErrorIs(t, err, ErrBase)
	assert.ErrorIs(t, err, cause)
}

func TestStatusCodePropagation(t *testing.T) {
	ErrBase := New("refused").SetStatusCode(http.StatusConflict)
	assert.Equal(t, http.StatusConflict, ErrBase.StatusCode())

	// Derivations and detail messages inherit the code.
	assert.Equal(t, http.StatusConflict, ErrBase.New("cap reached").StatusCode())
	assert.Equal(t, http.StatusConflict, ErrBase.Msg("cap reached for u7").StatusCode())

	// Overriding does not mutate the original.
	override := ErrBase.SetStatusCode(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, override.StatusCode())
	assert.Equal(t, http.StatusConflict, ErrBase.StatusCode())
}

func TestErrorAllExpansion(t *testing.T) {
	ErrBase := New("base error")
	cause := errors.New("the cause")

	plain := ErrBase.Err(cause)
	assert.Equal(t, "base error", plain.ErrorAll())

	expanded := ErrBase.SetExpandError(true).Err(cause)
	assert.Contains(t, expanded.ErrorAll(), "base error")
	assert.Contains(t, expanded.ErrorAll(), "the cause")
}

func TestUnwrapAll(t *testing.T) {
	ErrBase := New("base error")
	first := errors.New("first")
	second := errors.New("second")

	err := ErrBase.Err(first, second)
	all := err.UnwrapAll()
	assert.Len(t, all, 3) // base + two causes
}
