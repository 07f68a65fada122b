package model

import (
	"encoding/json"
	"time"
)

// QaStatus is the quality assurance verdict for a data point or dataset.
type QaStatus string

const (
	QaPending  QaStatus = "Pending"
	QaAccepted QaStatus = "Accepted"
	QaRejected QaStatus = "Rejected"
)

// Valid reports whether s is a known QA status.
func (s QaStatus) Valid() bool {
	switch s {
	case QaPending, QaAccepted, QaRejected:
		return true
	}
	return false
}

// UploadedDataPoint is a single data point as submitted by a client.
// DataPoint holds the leaf object, typically
// {"value", "quality", "comment", "dataSource"}.
type UploadedDataPoint struct {
	DataPoint       json.RawMessage `json:"dataPoint"`
	DataPointType   string          `json:"dataPointType"`
	CompanyID       string          `json:"companyId"`
	ReportingPeriod string          `json:"reportingPeriod"`
}

// Dimension returns the data point dimension the upload addresses.
func (p UploadedDataPoint) Dimension() DataPointDimension {
	return DataPointDimension{
		CompanyID:       p.CompanyID,
		DataPointType:   p.DataPointType,
		ReportingPeriod: p.ReportingPeriod,
	}
}

// DataPointMeta is the stored metadata of a data point.
type DataPointMeta struct {
	DataPointID     string    `json:"dataPointId"`
	DataPointType   string    `json:"dataPointType"`
	CompanyID       string    `json:"companyId"`
	ReportingPeriod string    `json:"reportingPeriod"`
	UploaderUserID  string    `json:"uploaderUserId"`
	UploadTime      time.Time `json:"uploadTime"`
	CurrentlyActive bool      `json:"currentlyActive"`
	QaStatus        QaStatus  `json:"qaStatus"`
}

// Dimension returns the data point dimension of the meta record.
func (m DataPointMeta) Dimension() DataPointDimension {
	return DataPointDimension{
		CompanyID:       m.CompanyID,
		DataPointType:   m.DataPointType,
		ReportingPeriod: m.ReportingPeriod,
	}
}

// DataPoint is a stored data point with its content.
type DataPoint struct {
	DataPointMeta
	Content json.RawMessage `json:"dataPoint"`
}
