// Package httpx provides HTTP request/response handling utilities for the
// bot manager's REST and callback surfaces. It includes JSON request
// parsing with strict field checking, standardized response handling, and
// translation of application errors into HTTP error responses.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

// GetRequestData parses a JSON request body into the provided structure.
// Unknown fields are rejected, which is how unrecognized config options are
// refused at the admission boundary. Supports POST, PUT, and PATCH.
func GetRequestData(r *http.Request, data any) error {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(data); err != nil {
		return ErrUnableToParseReqData(err.Error())
	}
	return nil
}

// Response represents an HTTP response with a status code, an optional
// Location header, and a JSON-encodable payload.
type Response struct {
	StatusCode int
	Location   string
	Response   any
}

// RequestHandler defines a function type for handling HTTP requests.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp wraps a RequestHandler to provide standardized response
// handling: apperrors carry their own status codes, *Error values pass
// through, and anything else becomes a generic application error.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			if httperror, ok := err.(*Error); ok {
				httperror.Send(w)
			} else if appErr, ok := err.(apperrors.Error); ok {
				SendError(w, appErr)
			} else {
				ErrApplicationError(err.Error()).Send(w)
			}
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
	})
}
