// Package model defines the entities, invariants helpers, and canonical
// bundle shapes shared by every component of the clinical data engine.
package model

import "time"

// ValueType is the discriminant on an Observation selecting how its value
// column is encoded.
type ValueType string

const (
	ValueNumeric       ValueType = "N"
	ValueText          ValueType = "T"
	ValueDate          ValueType = "D"
	ValueRaw           ValueType = "R"
	ValueSelection     ValueType = "S"
	ValueFinding       ValueType = "F"
	ValueAnswer        ValueType = "A"
	ValueQuestionnaire ValueType = "Q"
)

// Valid reports whether vt is one of the eight declared value types.
func (vt ValueType) Valid() bool {
	switch vt {
	case ValueNumeric, ValueText, ValueDate, ValueRaw, ValueSelection, ValueFinding, ValueAnswer, ValueQuestionnaire:
		return true
	}
	return false
}

// Audit holds the four columns every insert records per invariant 7.
type Audit struct {
	ImportDate     time.Time `json:"importDate"`
	UpdateDate     time.Time `json:"updateDate"`
	UploadID       int64     `json:"uploadId,omitempty"`
	SourceSystemCD string    `json:"sourceSystemCd"`
}

// DefaultSourceSystem is used when a record doesn't specify one.
const DefaultSourceSystem = "USER"

// Patient is the PATIENT_DIMENSION row.
type Patient struct {
	PatientNum   int64           `json:"patientNum"`
	PatientCD    string          `json:"patientCd"`
	SexCD        string          `json:"sexCd,omitempty"`
	AgeInYears   *int            `json:"ageInYears,omitempty"`
	BirthDate    *time.Time      `json:"birthDate,omitempty"`
	DeathDate    *time.Time      `json:"deathDate,omitempty"`
	LanguageCD   string          `json:"languageCd,omitempty"`
	RaceCD       string          `json:"raceCd,omitempty"`
	MaritalCD    string          `json:"maritalCd,omitempty"`
	ReligionCD   string          `json:"religionCd,omitempty"`
	Blob         Blob            `json:"blob,omitempty"`
	Audit
}

// Visit is the VISIT_DIMENSION (encounter) row.
type Visit struct {
	EncounterNum int64      `json:"encounterNum"`
	PatientNum   int64      `json:"patientNum"`
	StartDate    time.Time  `json:"startDate"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	ActiveStatusCD string   `json:"activeStatusCd,omitempty"`
	InOutCD      string     `json:"inoutCd,omitempty"` // I|O|E
	LocationCD   string     `json:"locationCd,omitempty"`
	Blob         Blob       `json:"blob,omitempty"`
	Audit
}

// Observation is the OBSERVATION_FACT row.
type Observation struct {
	InstanceNum  int64      `json:"instanceNum"`
	PatientNum   int64      `json:"patientNum"`
	EncounterNum int64      `json:"encounterNum"`
	ConceptCD    string     `json:"conceptCd"`
	ValTypeCD    ValueType  `json:"valtypeCd"`
	NumericValue *float64   `json:"nvalNum,omitempty"`
	TextValue    *string    `json:"tvalChar,omitempty"`
	UnitCD       string     `json:"unitCd,omitempty"`
	CategoryCD   string     `json:"categoryCd,omitempty"`
	ProviderID   string     `json:"providerId,omitempty"`
	LocationCD   string     `json:"locationCd,omitempty"`
	StartDate    time.Time  `json:"startDate"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Blob         Blob       `json:"blob,omitempty"`
	Audit
}

// Note is the NOTE_FACT row. EncounterNum is optional (nil when the note has no visit).
type Note struct {
	NoteID       int64  `json:"noteId"`
	PatientNum   int64  `json:"patientNum"`
	EncounterNum *int64 `json:"encounterNum,omitempty"`
	CategoryCD   string `json:"categoryCd,omitempty"`
	Body         string `json:"body"`
	Blob         Blob   `json:"blob,omitempty"`
	Audit
}

// Concept is the CONCEPT_DIMENSION row.
type Concept struct {
	ConceptCD      string    `json:"conceptCd"`
	ConceptPath    string    `json:"conceptPath"`
	DisplayName    string    `json:"displayName"`
	CategoryCD     string    `json:"categoryCd,omitempty"`
	ValTypeCD      ValueType `json:"valtypeCd"`
	UnitCD         string    `json:"unitCd,omitempty"`
	SourceSystemCD string    `json:"sourceSystemCd,omitempty"`
	RelatedConcept string    `json:"relatedConcept,omitempty"`
	Blob           Blob      `json:"blob,omitempty"`
}

// CodeLookup is a (tableCd, columnCd, codeCd) controlled-vocabulary row.
type CodeLookup struct {
	TableCD   string `json:"tableCd"`
	ColumnCD  string `json:"columnCd"`
	CodeCD    string `json:"codeCd"`
	NameChar  string `json:"nameChar"`
	Blob      Blob   `json:"blob,omitempty"`
}

// CqlRule is a stored clinical-quality-language rule.
type CqlRule struct {
	CqlID       int64  `json:"cqlId"`
	CodeCD      string `json:"codeCd"`
	Name        string `json:"name"`
	Body        string `json:"body"`
	AST         Blob   `json:"ast,omitempty"`
	Description Blob   `json:"description,omitempty"`
}

// User is an account row. PasswordHash is never the clear-text password.
type User struct {
	UserID       int64  `json:"userId"`
	UserCD       string `json:"userCd"`
	DisplayName  string `json:"displayName"`
	PasswordHash string `json:"-"`
	ColumnCD     string `json:"columnCd,omitempty"` // role
	Blob         Blob   `json:"blob,omitempty"`
	Audit
}

// Provider is a thin code-lookup-shaped dimension for clinicians,
// referenced by Observation.ProviderID.
type Provider struct {
	ProviderID   string `json:"providerId"`
	NameChar     string `json:"nameChar"`
	SpecialtyCD  string `json:"specialtyCd,omitempty"`
	Blob         Blob   `json:"blob,omitempty"`
}

// MigrationRecord tracks one applied schema migration.
type MigrationRecord struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ExecutedAt  time.Time `json:"executedAt"`
	Checksum    uint64    `json:"checksum"`
	Description string    `json:"description"`
}
