package model

import "time"

// RequestState is the lifecycle state of a data request.
type RequestState string

const (
	RequestOpen          RequestState = "Open"
	RequestProcessing    RequestState = "Processing"
	RequestProcessed     RequestState = "Processed"
	RequestWithdrawn     RequestState = "Withdrawn"
	RequestNonSourceable RequestState = "NonSourceable"
)

// Valid reports whether s is a known request state.
func (s RequestState) Valid() bool {
	switch s {
	case RequestOpen, RequestProcessing, RequestProcessed, RequestWithdrawn, RequestNonSourceable:
		return true
	}
	return false
}

// Final reports whether no further automatic transition is expected.
func (s RequestState) Final() bool {
	return s != RequestOpen && s != RequestProcessing
}

// RequestPriority orders requests in the admin queue.
type RequestPriority string

const (
	PriorityHigh RequestPriority = "High"
	PriorityLow  RequestPriority = "Low"
)

// Valid reports whether p is a known priority.
func (p RequestPriority) Valid() bool {
	return p == PriorityHigh || p == PriorityLow
}

// Request is a user's ask for data on one dimension.
type Request struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	BilledCompanyID  string          `json:"billedCompanyId,omitempty"`
	CompanyID        string          `json:"companyId"`
	DataType         string          `json:"dataType"`
	ReportingPeriod  string          `json:"reportingPeriod"`
	State            RequestState    `json:"state"`
	Priority         RequestPriority `json:"requestPriority"`
	CreationTime     time.Time       `json:"creationTimestamp"`
	LastModifiedDate time.Time       `json:"lastModifiedDate"`
	MemberComment    string          `json:"memberComment,omitempty"`
	AdminComment     string          `json:"adminComment,omitempty"`
	DataSourcingID   string          `json:"dataSourcingEntityId,omitempty"`
}

// Dimension returns the basic data dimension the request addresses.
func (r Request) Dimension() BasicDataDimension {
	return BasicDataDimension{CompanyID: r.CompanyID, DataType: r.DataType, ReportingPeriod: r.ReportingPeriod}
}

// RequestRevision is one audited version of a request.
type RequestRevision struct {
	RequestID      string          `json:"requestId"`
	State          RequestState    `json:"state"`
	Priority       RequestPriority `json:"requestPriority"`
	AdminComment   string          `json:"adminComment,omitempty"`
	DataSourcingID string          `json:"dataSourcingEntityId,omitempty"`
	ModifiedAt     time.Time       `json:"lastModifiedDate"`
}
