package model

import "time"

// ImportOptions records which sub-collections a bundle carries.
type ImportOptions struct {
	IncludeVisits       bool `json:"includeVisits"`
	IncludeObservations bool `json:"includeObservations"`
	IncludeNotes        bool `json:"includeNotes"`
}

// ImportMetadata is the `metadata` block of the canonical ImportStructure.
type ImportMetadata struct {
	Title              string        `json:"title,omitempty"`
	ExportDate         time.Time     `json:"exportDate,omitempty"`
	Format             string        `json:"format"`
	Source             string        `json:"source,omitempty"`
	Version            string        `json:"version,omitempty"`
	Author             string        `json:"author,omitempty"`
	PatientCount       int           `json:"patientCount"`
	VisitCount         int           `json:"visitCount"`
	ObservationCount   int           `json:"observationCount"`
	PatientIDs         []string      `json:"patientIds,omitempty"`
	Options            ImportOptions `json:"options"`
}

// ExportInfo is the `exportInfo` block.
type ExportInfo struct {
	Format     string    `json:"format"`
	Version    string    `json:"version,omitempty"`
	ExportedAt time.Time `json:"exportedAt"`
	Source     string    `json:"source,omitempty"`
}

// RawPatient/RawVisit/RawObservation are flat records using the same field
// names as the schema columns, produced by parsers and consumed by the
// import service. Extra is not serialised and none of the bundled parsers
// fill it, so input fields outside the named ones are not kept.
type RawPatient struct {
	PatientCD  string         `json:"PATIENT_CD"`
	SexCD      string         `json:"SEX_CD,omitempty"`
	AgeInYears *int           `json:"AGE_IN_YEARS,omitempty"`
	BirthDate  string         `json:"BIRTH_DATE,omitempty"`
	DeathDate  string         `json:"DEATH_DATE,omitempty"`
	LanguageCD string         `json:"LANGUAGE_CD,omitempty"`
	RaceCD     string         `json:"RACE_CD,omitempty"`
	MaritalCD  string         `json:"MARITAL_CD,omitempty"`
	ReligionCD string         `json:"RELIGION_CD,omitempty"`
	SourceSystemCD string     `json:"SOURCESYSTEM_CD,omitempty"`
	Extra      map[string]any `json:"-"`
}

type RawVisit struct {
	EncounterNum   string         `json:"ENCOUNTER_NUM,omitempty"` // original id, may be synthetic
	PatientCD      string         `json:"PATIENT_CD"`
	StartDate      string         `json:"START_DATE"`
	EndDate        string         `json:"END_DATE,omitempty"`
	ActiveStatusCD string         `json:"ACTIVE_STATUS_CD,omitempty"`
	InOutCD        string         `json:"INOUT_CD,omitempty"`
	LocationCD     string         `json:"LOCATION_CD,omitempty"`
	SourceSystemCD string         `json:"SOURCESYSTEM_CD,omitempty"`
	Extra          map[string]any `json:"-"`
}

type RawObservation struct {
	PatientCD      string         `json:"PATIENT_CD"`
	EncounterNum   string         `json:"ENCOUNTER_NUM,omitempty"`
	ConceptCD      string         `json:"CONCEPT_CD"`
	ValTypeCD      string         `json:"VALTYPE_CD,omitempty"`
	NValNum        *float64       `json:"NVAL_NUM,omitempty"`
	TValChar       string         `json:"TVAL_CHAR,omitempty"`
	UnitCD         string         `json:"UNIT_CD,omitempty"`
	CategoryCD     string         `json:"CATEGORY_CD,omitempty"`
	ProviderID     string         `json:"PROVIDER_ID,omitempty"`
	LocationCD     string         `json:"LOCATION_CD,omitempty"`
	StartDate      string         `json:"START_DATE"`
	EndDate        string         `json:"END_DATE,omitempty"`
	InstanceNum    int            `json:"INSTANCE_NUM,omitempty"`
	SourceSystemCD string         `json:"SOURCESYSTEM_CD,omitempty"`
	Extra          map[string]any `json:"-"`
}

// ImportData is the `data` block.
type ImportData struct {
	Patients     []RawPatient     `json:"patients"`
	Visits       []RawVisit       `json:"visits"`
	Observations []RawObservation `json:"observations"`
}

// ImportStatistics is the `statistics` block.
type ImportStatistics struct {
	PatientCount     int       `json:"patientCount"`
	VisitCount       int       `json:"visitCount"`
	ObservationCount int       `json:"observationCount"`
	FetchedAt        time.Time `json:"fetchedAt"`
}

// ImportStructure is the canonical in-memory bundle used by every parser
// and the import service.
type ImportStructure struct {
	Metadata   ImportMetadata   `json:"metadata"`
	ExportInfo ExportInfo       `json:"exportInfo"`
	Data       ImportData       `json:"data"`
	Statistics ImportStatistics `json:"statistics"`
}

// ImportDiagnostic is one parser/validator/import error entry.
type ImportDiagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Index   int    `json:"index,omitempty"`
}
