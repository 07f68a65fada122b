package pointtype

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/spec"
)

// Registry maps base type ids to the Go types their content must decode into.
type Registry struct {
	validate *validator.Validate
	types    map[string]reflect.Type
}

// NewRegistry creates a registry with all built-in base types.
func NewRegistry() *Registry {
	v := validator.New()
	_ = v.RegisterValidation("quality", validateQuality)
	_ = v.RegisterValidation("decimal", validateDecimal)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	r := &Registry{validate: v, types: map[string]reflect.Type{}}
	r.Register(ExtendedDecimal, ExtendedDecimalPoint{})
	r.Register(ExtendedInteger, ExtendedIntegerPoint{})
	r.Register(ExtendedString, ExtendedStringPoint{})
	r.Register(ExtendedDate, ExtendedDatePoint{})
	r.Register(ExtendedYesNo, ExtendedYesNoPoint{})
	r.Register(ExtendedCurrency, ExtendedCurrencyPoint{})
	r.Register(PlainString, PlainStringPoint{})
	r.Register(PlainDate, PlainDatePoint{})
	r.Register(PlainDecimal, PlainDecimalPoint{})
	return r
}

// Register binds a base type id to the struct its content decodes into.
func (r *Registry) Register(baseTypeID string, sample any) {
	r.types[baseTypeID] = reflect.TypeOf(sample)
}

// Validate checks content against a base type. Unknown fields, failed
// struct tags and inconsistent quality information are validation errors.
func (r *Registry) Validate(baseTypeID string, content json.RawMessage) error {
	t, ok := r.types[baseTypeID]
	if !ok {
		return apperr.Validation("Invalid base type.", "the base type %s has no registered validator", baseTypeID)
	}

	ptr := reflect.New(t)
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ptr.Interface()); err != nil {
		return apperr.Validation("Validation failed for data point.", "content does not match %s: %v", baseTypeID, err)
	}
	if err := r.validate.Struct(ptr.Interface()); err != nil {
		return apperr.Validation("Validation failed for data point.", "Validation failed for data point: %s", describe(err))
	}
	if ext, ok := ptr.Elem().Interface().(extended); ok {
		return checkExtended(ext)
	}
	return nil
}

// checkExtended enforces rules spanning several fields.
func checkExtended(p extended) error {
	q := p.quality()
	if q == nil {
		return nil
	}
	switch *q {
	case QualityNoDataFound:
		if p.hasValue() {
			return apperr.Validation("Validation failed for data point.", "a value must not be given when quality is %s", *q)
		}
	case QualityAudited, QualityReported:
		if p.hasValue() && p.source() == nil {
			return apperr.Validation("Validation failed for data point.", "a data source is required when quality is %s", *q)
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+" failed on "+fe.Tag())
	}
	return strings.Join(msgs, ", ")
}

func validateQuality(fl validator.FieldLevel) bool {
	q := Quality(fl.Field().String())
	for _, known := range qualityOrder {
		if q == known {
			return true
		}
	}
	return false
}

func validateDecimal(fl validator.FieldLevel) bool {
	_, ok := new(big.Rat).SetString(fl.Field().String())
	return ok
}

// BaseTypes resolves the base type of a data point type.
type BaseTypes interface {
	BaseType(ctx context.Context, dataPointTypeID string) (*spec.BaseType, error)
}

// Checker validates data point content by data point type.
type Checker struct {
	specs BaseTypes
	types *Registry
}

// NewChecker creates a Checker.
func NewChecker(specs BaseTypes, types *Registry) *Checker {
	return &Checker{specs: specs, types: types}
}

// Check validates content of the given data point type. An unknown type
// is reported as invalid input.
func (c *Checker) Check(ctx context.Context, dataPointType string, content json.RawMessage, correlationID string) error {
	zap.L().Debug("validating data point",
		zap.String("data_point_type", dataPointType),
		zap.String("correlation_id", correlationID),
	)
	base, err := c.specs.BaseType(ctx, dataPointType)
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.Validation("Specified data point identifier "+dataPointType+" is not valid.",
			"the data point identifier %s is not known to the specification service", dataPointType)
	}
	if err != nil {
		return err
	}
	if err := c.types.Validate(base.ID, content); err != nil {
		zap.L().Warn("data point validation failed",
			zap.String("data_point_type", dataPointType),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
