package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorDetail struct {
	ErrorType  string `json:"errorType"`
	Summary    string `json:"summary"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus"`
}

type errorResponse struct {
	Errors []errorDetail `json:"errors"`
}

// writeError answers with the status of err. Unclassified errors are
// logged and hidden from the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	detail := errorDetail{HTTPStatus: status}
	if e, ok := apperr.As(err); ok {
		detail.ErrorType = string(e.Kind)
		detail.Summary = e.Summary
		detail.Message = e.Detail
	} else {
		correlationID := CorrelationID(r.Context())
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		detail.ErrorType = "internal"
		detail.Summary = "An internal server error occurred"
		detail.Message = "please contact support and quote the correlation id " + correlationID
	}
	writeJSON(w, status, errorResponse{Errors: []errorDetail{detail}})
}

// decode reads a JSON body into v and validates struct tags.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("Invalid input", "the request body could not be parsed: %v", err)
	}
	if reflect.Indirect(reflect.ValueOf(v)).Kind() != reflect.Struct {
		return nil
	}
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
			}
			return apperr.Validation("Invalid input", "%s", strings.Join(msgs, "; "))
		}
		return apperr.Validation("Invalid input", "%v", err)
	}
	return nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation("Invalid input", "the parameter %s must be true or false, got %q", name, raw)
	}
	return b, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("Invalid input", "the parameter %s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}
