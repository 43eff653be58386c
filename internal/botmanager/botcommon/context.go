package botcommon

import "context"

type userIdContextKey struct{}

// WithUserID stores the pre-resolved user identifier in the context.
// Authentication happens upstream; the bot manager only consumes the result.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIdContextKey{}, userID)
}

// GetUserID returns the user identifier from the context, or "" if absent.
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(userIdContextKey{}).(string)
	if !ok {
		return ""
	}
	return userID
}
