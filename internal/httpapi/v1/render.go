package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tinoosan/bizledger/internal/errs"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the standard error payload for the API.
type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Kind   string            `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// toJSON writes a JSON response with status code.
func toJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusBadRequest, msg, "bad_request")
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation, errs.KindPeriod:
		return http.StatusUnprocessableEntity
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindState, errs.KindConcurrency, errs.KindIntegrity:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders a service error. Untyped errors are logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := errs.As(err)
	if !ok {
		s.log.Error("request failed", "request_id", requestID(r), "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
		return
	}
	if e.Kind == errs.KindConcurrency {
		w.Header().Set("Retry-After", "1")
	}
	toJSON(w, statusFor(e.Kind), errorResponse{Error: e.Error(), Code: e.Code, Kind: string(e.Kind), Fields: e.Fields})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// decodeJSON reads a strict JSON body into dest and runs struct validation.
// It writes the error response itself and reports whether to continue.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeErr(w, http.StatusUnsupportedMediaType, "content type must be application/json", "unsupported_media_type")
		return false
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(dest); err != nil {
		s.writeError(w, r, validationError(err))
		return false
	}
	return true
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return errs.Cause(errs.ErrInvalid, err)
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fieldPath(fe)] = validationMessage(fe)
	}
	return errs.WithFields(errs.ErrInvalid, fields)
}

// fieldPath drops the root struct name: postVoucherRequest.lines[0].account_id -> lines[0].account_id.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	}
	return "is invalid"
}

// pathID parses a positive int64 URL parameter.
func pathID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}
