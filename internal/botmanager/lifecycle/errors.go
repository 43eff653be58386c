package lifecycle

import (
	"net/http"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

var (
	ErrLifecycle    apperrors.Error = apperrors.New("lifecycle error")
	ErrIllegalState apperrors.Error = ErrLifecycle.New("bot is not in a reconfigurable state").SetStatusCode(http.StatusConflict)
	ErrStartAborted apperrors.Error = ErrLifecycle.New("bot start aborted").SetStatusCode(http.StatusBadGateway)
)
