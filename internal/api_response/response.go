// Package api_response holds the JSON envelope every REST endpoint answers with.
package api_response

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okieraised/relay-controller/internal/constants"
)

type Response[T any] struct {
	RequestID     string         `json:"request_id"`
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	ServerTime    int64          `json:"server_time"`
	ServerTimeISO string         `json:"server_time_iso"`
	Count         int            `json:"count,omitempty"`
	Data          T              `json:"data"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// BaseOutput is what services hand back to routers. A zero Status means 200.
type BaseOutput struct {
	Status  int
	Code    string
	Message string
	Data    any
	Count   int
	Meta    map[string]any
}

func New[T any](ctx context.Context) *Response[T] {
	now := time.Now()
	return &Response[T]{
		RequestID:     requestIDFromContext(ctx),
		ServerTime:    now.Unix(),
		ServerTimeISO: now.Format(time.RFC3339),
	}
}

// Success renders a service output.
func Success(ctx context.Context, out *BaseOutput) *Response[any] {
	resp := New[any](ctx)
	if out == nil {
		return resp
	}
	resp.Code = out.Code
	resp.Message = out.Message
	resp.Data = out.Data
	resp.Count = out.Count
	return resp.WithMeta(out.Meta)
}

// Failure renders an error. details, when non-nil, lands in meta.details.
func Failure(ctx context.Context, code, message string, details any) *Response[any] {
	resp := New[any](ctx)
	resp.Code = code
	resp.Message = message
	if details != nil {
		resp.WithMetaKV("details", details)
	}
	return resp
}

func (r *Response[T]) WithMetaKV(k string, v any) *Response[T] {
	if r.Meta == nil {
		r.Meta = make(map[string]any)
	}
	r.Meta[k] = v
	return r
}

func (r *Response[T]) WithMeta(m map[string]any) *Response[T] {
	for k, v := range m {
		r.WithMetaKV(k, v)
	}
	return r
}

// requestIDFromContext reads the id set by the request id middleware. gin
// contexts resolve string keys through Value.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return uuid.New().String()
	}
	if v := ctx.Value(constants.APIFieldRequestID); v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return uuid.New().String()
}
