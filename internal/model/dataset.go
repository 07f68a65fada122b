package model

import (
	"encoding/json"
	"time"
)

// CompanyAssociatedData is a framework dataset for one company and
// reporting period.
type CompanyAssociatedData struct {
	CompanyID       string          `json:"companyId"`
	ReportingPeriod string          `json:"reportingPeriod"`
	Data            json.RawMessage `json:"data"`
}

// DatasetMeta is the stored metadata of an uploaded dataset.
type DatasetMeta struct {
	DatasetID       string    `json:"dataId"`
	CompanyID       string    `json:"companyId"`
	DataType        string    `json:"dataType"`
	ReportingPeriod string    `json:"reportingPeriod"`
	UploaderUserID  string    `json:"uploaderUserId"`
	UploadTime      time.Time `json:"uploadTime"`
	QaStatus        QaStatus  `json:"qaStatus"`
}

// Dimension returns the basic data dimension of the dataset.
func (m DatasetMeta) Dimension() BasicDataDimension {
	return BasicDataDimension{CompanyID: m.CompanyID, DataType: m.DataType, ReportingPeriod: m.ReportingPeriod}
}

// DimensionalDataset is an assembled dataset keyed by its dimension.
type DimensionalDataset struct {
	Dimension BasicDataDimension `json:"dimension"`
	Data      json.RawMessage    `json:"data"`
}
