package model

import (
	"fmt"
	"regexp"
)

// BasicDataDimension addresses a dataset: one framework for one company
// and reporting period.
type BasicDataDimension struct {
	CompanyID       string `json:"companyId"`
	DataType        string `json:"dataType"`
	ReportingPeriod string `json:"reportingPeriod"`
}

func (d BasicDataDimension) String() string {
	return fmt.Sprintf("%s/%s/%s", d.CompanyID, d.DataType, d.ReportingPeriod)
}

// DataPointDimension addresses a single field of a dataset. At most one data
// point is currently active per dimension.
type DataPointDimension struct {
	CompanyID       string `json:"companyId"`
	DataPointType   string `json:"dataPointType"`
	ReportingPeriod string `json:"reportingPeriod"`
}

func (d DataPointDimension) String() string {
	return fmt.Sprintf("%s/%s/%s", d.CompanyID, d.DataPointType, d.ReportingPeriod)
}

var reportingPeriodPattern = regexp.MustCompile(`^\d{4}(-Q[1-4])?$`)

// ValidReportingPeriod reports whether p is a year ("2023") or a quarter
// ("2023-Q2").
func ValidReportingPeriod(p string) bool {
	return reportingPeriodPattern.MatchString(p)
}
