// Package bus provides the publish-only command channel between the bot
// manager and its workers. Channels are named by session UID. Delivery is
// at-most-once with no ack and no persistence: if no subscriber is present
// the command is lost, and the reaper or a follow-up request compensates.
// State truth lives in the store; the bus conveys intent only.
package bus

import (
	"context"
	"net/http"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

// Command actions understood by workers.
const (
	ActionReconfigure = "reconfigure"
	ActionLeave       = "leave"
)

// Command is the wire form of a runtime instruction to a worker. Workers
// must treat a later Reconfigure as authoritative; per-channel ordering is
// best-effort FIFO only.
type Command struct {
	Action   string  `json:"action"`
	Language *string `json:"language,omitempty"`
	Task     *string `json:"task,omitempty"`
}

// LeaveCommand instructs the worker to begin graceful shutdown.
func LeaveCommand() Command {
	return Command{Action: ActionLeave}
}

// ReconfigureCommand instructs the worker to apply new options. Nil fields
// leave the worker's current value in place.
func ReconfigureCommand(language, task *string) Command {
	return Command{Action: ActionReconfigure, Language: language, Task: task}
}

// CommandBus is the publish-only channel keyed by session UID. Publish must
// not block the caller on delivery.
type CommandBus interface {
	Publish(ctx context.Context, sessionUID string, cmd Command) apperrors.Error
	Close() error
}

var (
	ErrBus           apperrors.Error = apperrors.New("command bus error").SetStatusCode(http.StatusServiceUnavailable)
	ErrPublishFailed apperrors.Error = ErrBus.New("failed to publish command")
	ErrBusClosed     apperrors.Error = ErrBus.New("command bus is closed")
	ErrInvalidTopic  apperrors.Error = ErrBus.New("invalid channel name").SetStatusCode(http.StatusBadRequest)
)
