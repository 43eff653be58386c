// Package botinfo holds build-level identity constants for the bot manager.
package botinfo

const (
	ServerVersion = "0.4.1"
	ApiVersion    = "v1"
)
