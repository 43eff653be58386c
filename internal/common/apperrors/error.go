// Package apperrors provides the error handling system used across the bot
// manager. Errors form chains: a package declares a base error, derives
// named refusals from it with New, and call sites attach detail with Msg or
// wrap causes with Err. Every error carries the HTTP status code its
// surface should answer with, so the HTTP edge needs no mapping tables.
package apperrors

// Error defines the interface for application errors. It extends the
// standard error interface with error wrapping, message manipulation, and
// status code management. All methods return Error to support chaining.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // creates a new error using current as template
	Msg(msg string) Error                  // creates a new error with message and wraps original
	MsgErr(msg string, err ...error) Error // creates error with message and wraps extra errors
	Err(err ...error) Error                // attaches additional errors to current error
	SetExpandError(bool) Error             // controls whether ErrorAll expands wrapped errors
	SetStatusCode(int) Error               // sets HTTP status code for the error
	StatusCode() int                       // returns the current status code
	ErrorAll() string                      // returns full message including wrapped errors
	UnwrapAll() []error                    // returns all wrapped errors
}
