package dberror

import (
	"net/http"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

var (
	// ErrDatabase covers transient store failures; callers retry with
	// bounded backoff and surface 503 if the store stays unavailable.
	ErrDatabase          apperrors.Error = apperrors.New("store unavailable").SetStatusCode(http.StatusServiceUnavailable)
	ErrNotFound          apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound)
	ErrLimitExceeded     apperrors.Error = ErrDatabase.New("concurrent bot limit reached").SetStatusCode(http.StatusConflict)
	ErrConflict          apperrors.Error = ErrDatabase.New("duplicate reservation for meeting").SetStatusCode(http.StatusConflict)
	ErrIllegalTransition apperrors.Error = ErrDatabase.New("illegal status transition").SetStatusCode(http.StatusConflict)
	ErrAlreadySet        apperrors.Error = ErrDatabase.New("container id already set").SetStatusCode(http.StatusConflict)
	ErrInvalidInput      apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
)
