package model

import "time"

// DataSourcingState is the lifecycle state of a sourcing work item.
type DataSourcingState string

const (
	SourcingInitialized          DataSourcingState = "Initialized"
	SourcingDocumentSourcing     DataSourcingState = "DocumentSourcing"
	SourcingDocumentSourcingDone DataSourcingState = "DocumentSourcingDone"
	SourcingDataExtraction       DataSourcingState = "DataExtraction"
	SourcingDataVerification     DataSourcingState = "DataVerification"
	SourcingNonSourceable        DataSourcingState = "NonSourceable"
	SourcingDone                 DataSourcingState = "Done"
)

// Valid reports whether s is a known sourcing state.
func (s DataSourcingState) Valid() bool {
	switch s {
	case SourcingInitialized, SourcingDocumentSourcing, SourcingDocumentSourcingDone,
		SourcingDataExtraction, SourcingDataVerification, SourcingNonSourceable, SourcingDone:
		return true
	}
	return false
}

// Terminal reports whether the sourcing effort has concluded.
func (s DataSourcingState) Terminal() bool {
	return s == SourcingDone || s == SourcingNonSourceable
}

// DataSourcing is the work item tracking the effort to source data for one
// basic data dimension. It aggregates every request for that dimension.
type DataSourcing struct {
	ID                                string            `json:"dataSourcingEntityId"`
	CompanyID                         string            `json:"companyId"`
	DataType                          string            `json:"dataType"`
	ReportingPeriod                   string            `json:"reportingPeriod"`
	State                             DataSourcingState `json:"state"`
	DocumentIDs                       []string          `json:"documentIds,omitempty"`
	ExpectedPublicationDates          []string          `json:"expectedPublicationDatesOfDocuments,omitempty"`
	DateOfNextDocumentSourcingAttempt string            `json:"dateOfNextDocumentSourcingAttempt,omitempty"`
	DocumentCollector                 string            `json:"documentCollector,omitempty"`
	DataExtractor                     string            `json:"dataExtractor,omitempty"`
	AdminComment                      string            `json:"adminComment,omitempty"`
	Priority                          int               `json:"priority"`
	AssociatedRequestIDs              []string          `json:"associatedRequestIds"`
	LastModifiedDate                  time.Time         `json:"lastModifiedDate"`
}

// Dimension returns the basic data dimension of the work item.
func (s DataSourcing) Dimension() BasicDataDimension {
	return BasicDataDimension{CompanyID: s.CompanyID, DataType: s.DataType, ReportingPeriod: s.ReportingPeriod}
}

// DataSourcingRevision is one audited version of a sourcing work item.
type DataSourcingRevision struct {
	DataSourcingID string            `json:"dataSourcingEntityId"`
	State          DataSourcingState `json:"state"`
	AdminComment   string            `json:"adminComment,omitempty"`
	ModifiedAt     time.Time         `json:"lastModifiedDate"`
}

// DisplayedState is the request progress shown to the requesting user. It
// combines the request state with the state of the linked sourcing item.
type DisplayedState string

const (
	DisplayedOpen                 DisplayedState = "Open"
	DisplayedValidated            DisplayedState = "Validated"
	DisplayedDocumentSourcing     DisplayedState = "DocumentSourcing"
	DisplayedDocumentVerification DisplayedState = "DocumentVerification"
	DisplayedDataExtraction       DisplayedState = "DataExtraction"
	DisplayedDataVerification     DisplayedState = "DataVerification"
	DisplayedNonSourceable        DisplayedState = "NonSourceable"
	DisplayedDone                 DisplayedState = "Done"
	DisplayedWithdrawn            DisplayedState = "Withdrawn"
)

// DisplayedStateOf derives the user-facing state. A nil sourcing state
// means no work item is linked yet.
func DisplayedStateOf(state RequestState, sourcing *DataSourcingState) DisplayedState {
	switch {
	case state == RequestWithdrawn:
		return DisplayedWithdrawn
	case state == RequestOpen, sourcing == nil:
		return DisplayedOpen
	}
	switch *sourcing {
	case SourcingInitialized:
		return DisplayedValidated
	case SourcingDocumentSourcing:
		return DisplayedDocumentSourcing
	case SourcingDocumentSourcingDone:
		return DisplayedDocumentVerification
	case SourcingDataExtraction:
		return DisplayedDataExtraction
	case SourcingDataVerification:
		return DisplayedDataVerification
	case SourcingNonSourceable:
		return DisplayedNonSourceable
	default:
		return DisplayedDone
	}
}
