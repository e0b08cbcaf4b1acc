/*
Package factory converts backend response bodies into engine records.

PURPOSE:
  The backend is inconsistent about how it wraps collections and write
  results. Every call site used to check a handful of field names on its
  own. This package does it once, as a tagged-variant decode that can be
  tested against each known shape in isolation.

LIST SHAPES (tried in this order):
  [ {...}, {...} ]                          ShapeArray
  { "<entity>": [...], "total": 12 }        ShapeEntity
  { "data": [...] }                         ShapeData
  { "data": { "<entity>": [...] } }         ShapeDataEntity
  { "success": true, "<entity>": [...] }    ShapeSuccess

  "success": false, or anything else, is ShapeUnknown with no items.
  Unknown is "no data", never a panic.

WRITE SHAPES:
  2xx: { "success": bool, "message"?: string, "<entity>"?: {...} }
  non-2xx: { "detail": string } or { "message": string }

USAGE:
  res := factory.NormalizeListResponse(body, "advances")
  if res.Shape == factory.ShapeUnknown {
      // treat as no data
  }

  wr, err := factory.ParseWriteResult(resp.StatusCode, body, "advance")

SEE ALSO:
  - backend/client.go: Calls these for every request
  - generic/errors.go: ErrShape, ErrRejected, ErrAuthRequired
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/warp/branch-ledger/generic"
)

// =============================================================================
// LIST RESPONSES
// =============================================================================

// Shape names the variant a list body matched.
type Shape string

const (
	ShapeArray      Shape = "array"
	ShapeEntity     Shape = "entity"
	ShapeData       Shape = "data"
	ShapeDataEntity Shape = "data_entity"
	ShapeSuccess    Shape = "success_entity"
	ShapeUnknown    Shape = "unknown"
)

// ListResult is a decoded collection.
type ListResult struct {
	Items []generic.Record
	Total int
	Shape Shape
}

// Err returns ErrShape when the body matched no variant.
func (lr ListResult) Err() error {
	if lr.Shape == ShapeUnknown {
		return generic.ErrShape
	}
	return nil
}

// NormalizeListResponse decodes a list body for entity.
// Array elements that are not objects are skipped.
func NormalizeListResponse(raw []byte, entity string) ListResult {
	v, err := decodeAny(raw)
	if err != nil {
		return ListResult{Shape: ShapeUnknown}
	}

	switch body := v.(type) {
	case []any:
		return listOf(body, nil, ShapeArray)
	case map[string]any:
		if ok, present := body["success"].(bool); present && !ok {
			return ListResult{Shape: ShapeUnknown}
		}
		if arr, ok := body[entity].([]any); ok && entity != "" {
			shape := ShapeEntity
			if _, present := body["success"]; present {
				shape = ShapeSuccess
			}
			return listOf(arr, body["total"], shape)
		}
		switch data := body["data"].(type) {
		case []any:
			return listOf(data, body["total"], ShapeData)
		case map[string]any:
			if arr, ok := data[entity].([]any); ok && entity != "" {
				total := data["total"]
				if total == nil {
					total = body["total"]
				}
				return listOf(arr, total, ShapeDataEntity)
			}
		}
	}
	return ListResult{Shape: ShapeUnknown}
}

func listOf(arr []any, total any, shape Shape) ListResult {
	items := make([]generic.Record, 0, len(arr))
	for _, el := range arr {
		if obj, ok := el.(map[string]any); ok {
			items = append(items, generic.Record(obj))
		}
	}
	n := len(items)
	if t, ok := total.(json.Number); ok {
		if v, err := t.Int64(); err == nil && v >= 0 {
			n = int(v)
		}
	}
	return ListResult{Items: items, Total: n, Shape: shape}
}

func decodeAny(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// =============================================================================
// WRITE RESPONSES
// =============================================================================

// WriteResult is a decoded 2xx write response.
type WriteResult struct {
	Success bool
	Message string
	Entity  generic.Record
}

// APIError is a write or list call the backend refused.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the status onto the engine's error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return generic.ErrAuthRequired
	case e.Status == http.StatusNotFound:
		return generic.ErrNotFound
	case e.Status >= 200 && e.Status < 300:
		// success:false on a 2xx
		return generic.ErrRejected
	case e.Status >= 400 && e.Status < 500:
		return generic.ErrRejected
	default:
		return generic.ErrTransport
	}
}

// ParseWriteResult decodes the body of a write call. Non-2xx statuses and
// success:false both come back as *APIError.
func ParseWriteResult(status int, body []byte, entity string) (WriteResult, error) {
	obj, _ := decodeObject(body)

	if status < 200 || status >= 300 {
		return WriteResult{}, &APIError{Status: status, Message: errorMessage(obj, body)}
	}

	wr := WriteResult{Success: true}
	if obj == nil {
		return wr, nil
	}
	if ok, present := obj["success"].(bool); present {
		wr.Success = ok
	}
	if msg, ok := obj["message"].(string); ok {
		wr.Message = msg
	}
	if ent, ok := obj[entity].(map[string]any); ok && entity != "" {
		wr.Entity = generic.Record(ent)
	}
	if !wr.Success {
		return wr, &APIError{Status: status, Message: wr.Message}
	}
	return wr, nil
}

func decodeObject(body []byte) (map[string]any, bool) {
	v, err := decodeAny(body)
	if err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// errorMessage prefers detail over message. A non-string detail (a list of
// validation errors) is rendered as JSON.
func errorMessage(obj map[string]any, body []byte) string {
	if obj != nil {
		switch d := obj["detail"].(type) {
		case string:
			return d
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if m, ok := obj["message"].(string); ok {
			return m
		}
		if m, ok := obj["error"].(string); ok {
			return m
		}
		return ""
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
