// Package pointtype validates data point content against its base type and
// implements derived data point conversions.
package pointtype

import "encoding/json"

// Quality grades how a value was obtained.
type Quality string

// Quality options, ordered from best to worst.
const (
	QualityAudited     Quality = "Audited"
	QualityReported    Quality = "Reported"
	QualityEstimated   Quality = "Estimated"
	QualityIncomplete  Quality = "Incomplete"
	QualityNoDataFound Quality = "NoDataFound"
)

var qualityOrder = []Quality{
	QualityAudited,
	QualityReported,
	QualityEstimated,
	QualityIncomplete,
	QualityNoDataFound,
}

// Base type ids with a built-in validator.
const (
	ExtendedDecimal  = "extendedDecimal"
	ExtendedInteger  = "extendedInteger"
	ExtendedString   = "extendedString"
	ExtendedDate     = "extendedDate"
	ExtendedYesNo    = "extendedYesNo"
	ExtendedCurrency = "extendedCurrency"
	PlainString      = "plainString"
	PlainDate        = "plainDate"
	PlainDecimal     = "plainDecimal"
)

// DocumentReference points into a referenced report.
type DocumentReference struct {
	Page            *string `json:"page,omitempty"`
	TagName         *string `json:"tagName,omitempty"`
	FileName        *string `json:"fileName,omitempty"`
	FileReference   string  `json:"fileReference" validate:"required"`
	PublicationDate *string `json:"publicationDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// extended is implemented by base types carrying quality and a data source.
type extended interface {
	hasValue() bool
	quality() *Quality
	source() *DocumentReference
}

// ExtendedFields are shared by all extended base types.
type ExtendedFields struct {
	Quality    *Quality           `json:"quality" validate:"omitempty,quality"`
	Comment    *string            `json:"comment"`
	DataSource *DocumentReference `json:"dataSource"`
}

func (e ExtendedFields) quality() *Quality { return e.Quality }
func (e ExtendedFields) source() *DocumentReference { return e.DataSource }

// ExtendedDecimalPoint is the content of an extendedDecimal data point.
type ExtendedDecimalPoint struct {
	Value *json.Number `json:"value" validate:"omitempty,decimal"`
	ExtendedFields
}

func (p ExtendedDecimalPoint) hasValue() bool { return p.Value != nil }

// ExtendedIntegerPoint is the content of an extendedInteger data point.
type ExtendedIntegerPoint struct {
	Value *int64 `json:"value"`
	ExtendedFields
}

func (p ExtendedIntegerPoint) hasValue() bool { return p.Value != nil }

// ExtendedStringPoint is the content of an extendedString data point.
type ExtendedStringPoint struct {
	Value *string `json:"value"`
	ExtendedFields
}

func (p ExtendedStringPoint) hasValue() bool { return p.Value != nil }

// ExtendedDatePoint is the content of an extendedDate data point.
type ExtendedDatePoint struct {
	Value *string `json:"value" validate:"omitempty,datetime=2006-01-02"`
	ExtendedFields
}

func (p ExtendedDatePoint) hasValue() bool { return p.Value != nil }

// ExtendedYesNoPoint is the content of an extendedYesNo data point.
type ExtendedYesNoPoint struct {
	Value *string `json:"value" validate:"omitempty,oneof=Yes No"`
	ExtendedFields
}

func (p ExtendedYesNoPoint) hasValue() bool { return p.Value != nil }

// ExtendedCurrencyPoint is the content of an extendedCurrency data point.
type ExtendedCurrencyPoint struct {
	Value    *json.Number `json:"value" validate:"omitempty,decimal"`
	Currency *string      `json:"currency" validate:"omitempty,iso4217"`
	ExtendedFields
}

func (p ExtendedCurrencyPoint) hasValue() bool { return p.Value != nil }

// PlainStringPoint is the content of a plainString data point.
type PlainStringPoint struct {
	Value *string `json:"value"`
}

// PlainDatePoint is the content of a plainDate data point.
type PlainDatePoint struct {
	Value *string `json:"value" validate:"omitempty,datetime=2006-01-02"`
}

// PlainDecimalPoint is the content of a plainDecimal data point.
type PlainDecimalPoint struct {
	Value *json.Number `json:"value" validate:"omitempty,decimal"`
}
