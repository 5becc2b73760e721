// Package api holds the JSON envelope and request decoding shared by the
// intent, grant and route handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Response wraps every body the API returns: data on success, error
// otherwise.
type Response[T any] struct {
	Data  T      `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeExpired         = "EXPIRED"
	ErrCodeGrantInvalid    = "GRANT_INVALID"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeExecutionFailed = "EXECUTION_FAILED"
	ErrCodeTimeout         = "EXECUTION_TIMEOUT"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// maxBodyBytes caps request bodies; every payload here is a few hundred bytes.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes a success envelope.
func WriteData[T any](w http.ResponseWriter, status int, data T) {
	writeJSON(w, status, Response[T]{Data: data})
}

// WriteError writes an error envelope. details may be nil.
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, Response[any]{Error: &Error{Code: code, Message: message, Details: details}})
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message, nil)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message, nil)
}

// InvalidState is a 409 for a transition the intent's status forbids.
func InvalidState(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ErrCodeInvalidState, message, nil)
}

// Gone is a 410 for an intent that expired before the call.
func Gone(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, ErrCodeExpired, message, nil)
}

// GrantInvalid is a 422 naming the first grant check that failed.
func GrantInvalid(w http.ResponseWriter, reason string) {
	WriteError(w, http.StatusUnprocessableEntity, ErrCodeGrantInvalid, "authorization grant rejected",
		map[string]string{"reason": reason})
}

// ExecutionFailed is a 502: the executor answered and the payment failed.
func ExecutionFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, ErrCodeExecutionFailed, message, nil)
}

// Timeout is a 504: the executor did not answer in time and the outcome is
// unknown until reconciliation.
func Timeout(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGatewayTimeout, ErrCodeTimeout, message, nil)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, message, nil)
}

// validate reports fields by their JSON names so error details line up
// with the request body the client sent.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}()

// ValidationError is a 422. Field-level failures become details keyed by
// JSON field name.
func ValidationError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		WriteError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error(), nil)
		return
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	WriteError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "request validation failed", details)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + strings.Replace(fe.Param(), " ", " is ", 1)
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// DecodeAndValidate reads a JSON body into v and validates it. An empty
// body decodes to the zero value so endpoints with optional bodies still
// run their validation.
func DecodeAndValidate(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("request body exceeds %d bytes", tooBig.Limit)
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return validate.Struct(v)
}

// PaginationParams are the limit/offset query parameters of list endpoints.
type PaginationParams struct {
	Limit  int
	Offset int
}

// GetPaginationParams reads limit and offset, ignoring values that do not
// parse or fall outside 1..maxLimit and >= 0.
func GetPaginationParams(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	p := PaginationParams{Limit: defaultLimit}
	q := r.URL.Query()
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= maxLimit {
		p.Limit = l
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		p.Offset = o
	}
	return p
}
