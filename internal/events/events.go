// Package events carries the lifecycle messages of data points, datasets,
// requests and sourcing items. Delivery is at least once: publishers write
// to a queue, consumers claim batches, and handlers must tolerate replays.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dataland/internal/model"
)

// Type names a kind of event.
type Type string

const (
	DatasetQaRequired      Type = "DatasetQaRequired"
	DataPointUploaded      Type = "DataPointUploaded"
	DataPointQaRequested   Type = "DataPointQaRequested"
	QaStatusChanged        Type = "QaStatusChanged"
	RequestSetToProcessing Type = "RequestSetToProcessing"
	NonSourceable          Type = "NonSourceable"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case DatasetQaRequired, DataPointUploaded, DataPointQaRequested,
		QaStatusChanged, RequestSetToProcessing, NonSourceable:
		return true
	}
	return false
}

// ErrMalformed marks payloads that can never be processed. Handlers wrap it
// to have a message dead-lettered without further attempts.
var ErrMalformed = errors.New("events: malformed payload")

// Event is one message.
type Event struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// New builds an event with a fresh id around payload.
func New(typ Type, correlationID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, eris.Wrapf(err, "events: encode %s", typ)
	}
	return Event{
		ID:            uuid.New().String(),
		Type:          typ,
		CorrelationID: correlationID,
		Payload:       raw,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload of ev. Failures wrap ErrMalformed.
func Decode[T any](ev Event) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, eris.Wrapf(ErrMalformed, "%s %s: %v", ev.Type, ev.ID, err)
	}
	return out, nil
}

// DatasetQaRequiredPayload asks the QA service to review a whole dataset.
type DatasetQaRequiredPayload struct {
	DatasetID       string `json:"dataId"`
	CompanyID       string `json:"companyId"`
	DataType        string `json:"dataType"`
	ReportingPeriod string `json:"reportingPeriod"`
	UploaderUserID  string `json:"uploaderUserId"`
}

// DataPointUploadedPayload announces a stored data point with the QA
// status it starts with.
type DataPointUploadedPayload struct {
	DataPointID     string         `json:"dataId"`
	DataPointType   string         `json:"dataPointType"`
	CompanyID       string         `json:"companyId"`
	ReportingPeriod string         `json:"reportingPeriod"`
	DatasetID       string         `json:"datasetId,omitempty"`
	BypassQa        bool           `json:"bypassQa"`
	InitialQa       model.QaStatus `json:"initialQaStatus"`
	InitialComment  string         `json:"initialQaComment,omitempty"`
}

// DataPointQaRequestedPayload asks the QA service to review one data point.
type DataPointQaRequestedPayload struct {
	DataPointID     string `json:"dataId"`
	DataPointType   string `json:"dataPointType"`
	CompanyID       string `json:"companyId"`
	ReportingPeriod string `json:"reportingPeriod"`
}

// QaStatusChangedPayload reports a QA verdict. DataPoint is set for data
// point reviews and Dataset for dataset reviews. CurrentlyActiveDataID is
// the data point the QA service selected as active for the dimension,
// empty when none is.
type QaStatusChangedPayload struct {
	DataID                string                    `json:"dataId"`
	UpdatedQaStatus       model.QaStatus            `json:"updatedQaStatus"`
	CurrentlyActiveDataID string                    `json:"currentlyActiveDataId,omitempty"`
	DataPoint             *model.DataPointDimension `json:"dataPointDimension,omitempty"`
	Dataset               *model.BasicDataDimension `json:"basicDataDimension,omitempty"`
}

// RequestSetToProcessingPayload is the billing relevant notice that a
// request entered processing.
type RequestSetToProcessingPayload struct {
	RequestID          string `json:"requestId"`
	DataSourcingID     string `json:"dataSourcingId"`
	BilledCompanyID    string `json:"billedCompanyId"`
	UserID             string `json:"userId"`
	RequestedCompanyID string `json:"requestedCompanyId"`
	ReportingPeriod    string `json:"requestedReportingPeriod"`
	DataType           string `json:"requestedFramework"`
}

// NonSourceablePayload announces that data for a dimension cannot be sourced.
type NonSourceablePayload struct {
	DataSourcingID  string `json:"dataSourcingId"`
	CompanyID       string `json:"companyId"`
	DataType        string `json:"dataType"`
	ReportingPeriod string `json:"reportingPeriod"`
	Comment         string `json:"comment,omitempty"`
}
