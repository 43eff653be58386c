package lifecycle

import (
	"context"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

// isUnavailable reports whether the error is a transient dependency
// failure worth retrying. Refusals (cap, conflict, illegal transition) and
// lookups carry other status codes and are final.
func isUnavailable(err error) bool {
	appErr, ok := err.(apperrors.Error)
	return ok && appErr.StatusCode() == http.StatusServiceUnavailable
}

// retryStore runs op with capped exponential backoff while it reports the
// store as unavailable. Ops must be idempotent; all gateway mutators keyed
// by meeting id are.
func retryStore(ctx context.Context, op func() apperrors.Error) apperrors.Error {
	var lastErr apperrors.Error
	doErr := retry.Do(
		func() error {
			lastErr = op()
			if lastErr == nil {
				return nil
			}
			return lastErr
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(50*time.Millisecond),
		retry.RetryIf(isUnavailable),
		retry.LastErrorOnly(true),
	)
	if lastErr != nil {
		return lastErr
	}
	if doErr != nil {
		// Context expired before the first attempt could run.
		return ErrLifecycle.MsgErr("store operation aborted", doErr).
			SetStatusCode(http.StatusServiceUnavailable)
	}
	return nil
}
