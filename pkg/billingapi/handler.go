package billingapi

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HandlerFunc handles a bound and validated request of type R.
type HandlerFunc[R any] func(r *http.Request, req R) Response

// Response renders itself to an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind parses part of an HTTP request into v.
type Bind func(r *http.Request, v any) error

// Envelope is the body of every JSON response.
type Envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   Envelope
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON wraps v in an Envelope and renders it with status.
func JSON(status int, v any) Response {
	return jsonResponse{status: status, body: Envelope{Data: v}}
}

type errorResponse struct {
	api *API
	err error
}

func (e errorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	e.api.writeError(w, r, e.err)
	return nil
}

// Error renders err through the API error mapping.
func (a *API) Error(err error) Response {
	return errorResponse{api: a, err: err}
}

// wrap runs binders in order, validates the request and renders the handler
// response. Binders returning errNotApplicable are skipped.
func wrap[R any](a *API, h HandlerFunc[R], binders ...Bind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req R
		for _, bind := range binders {
			if err := bind(r, &req); err != nil {
				if errors.Is(err, errNotApplicable) {
					continue
				}
				a.writeError(w, r, err)
				return
			}
		}

		if err := a.validate.StructCtx(r.Context(), req); err != nil {
			a.writeError(w, r, err)
			return
		}

		resp := h(r, req)
		if resp == nil {
			a.writeError(w, r, ErrNilResponse)
			return
		}
		a.render(w, r, resp)
	}
}
