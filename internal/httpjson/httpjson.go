// Package httpjson writes the service's JSON envelope:
// {"success":true,"data":...} or {"success":false,"error":"..."}.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

const MaxBodyBytes = 1 << 20

type envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func Write(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func OK(w http.ResponseWriter, status int, data any) {
	Write(w, status, envelope{Success: true, Data: data})
}

func Error(w http.ResponseWriter, status int, message string) {
	Write(w, status, envelope{Success: false, Error: message})
}

func FieldErrors(w http.ResponseWriter, message string, fields map[string]string) {
	Write(w, http.StatusBadRequest, envelope{Success: false, Error: message, Fields: fields})
}

// RetryAfter sets the Retry-After header in whole seconds, rounded up and
// never below one.
func RetryAfter(w http.ResponseWriter, d time.Duration) {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}

var ErrInvalidBody = errors.New("invalid json body")

// Decode reads a size-limited JSON body into dst and rejects unknown fields.
// An empty body leaves dst untouched when allowEmpty is set.
func Decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return ErrInvalidBody
	}

	return nil
}
