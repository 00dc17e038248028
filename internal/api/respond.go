package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// Response renders itself to the client.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

type envelope struct {
	Data any            `json:"data,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

type jsonResponse struct {
	status int
	body   envelope
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON wraps data as {"data": ...}.
func JSON(status int, data any) Response {
	return jsonResponse{status: status, body: envelope{Data: data}}
}

// JSONWithMeta adds a meta object next to data.
func JSONWithMeta(status int, data any, meta map[string]any) Response {
	return jsonResponse{status: status, body: envelope{Data: data, Meta: meta}}
}

type noContent struct{}

func (noContent) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func NoContent() Response { return noContent{} }

// handlerFunc handles a request whose body was decoded into R.
type handlerFunc[R any] func(r *http.Request, req R) (Response, error)

// bindFunc decodes a request into v.
type bindFunc func(r *http.Request, v any) error

// empty is the request type of handlers that read nothing from the body.
type empty struct{}

func noBody(*http.Request, any) error { return nil }

func wrap[R any](a *API, bind bindFunc, h handlerFunc[R]) http.HandlerFunc {
	if bind == nil {
		bind = noBody
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req R
		if err := bind(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
		resp, err := h(r, req)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if resp == nil {
			resp = NoContent()
		}
		if err := resp.Render(w, r); err != nil {
			a.log.ErrorContext(r.Context(), "render response", "error", err)
		}
	}
}

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// bindJSON decodes a single JSON object and rejects unknown fields.
func bindJSON(r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("%w: expected application/json", errBadRequest)
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON object", errBadRequest)
	}
	return nil
}
