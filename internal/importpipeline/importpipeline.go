// Package importpipeline detects a bundle's format by filename and content
// sniffing, then parses CSV, JSON, or HL7-CDA into the canonical
// model.ImportStructure.
//
// JSON (de)serialisation uses json-iterator/go, promoted here from an
// indirect dependency to the bundle codec; CSV uses stdlib encoding/csv (no
// pack library improves on it for a two-header-row grid).
package importpipeline

import (
	"encoding/csv"
	"io"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/JenAIx/best-sub007/internal/model"
)

var bundleJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Format is a recognised input shape.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatHL7CDA  Format = "hl7-cda"
	FormatHTML    Format = "html"
	FormatUnknown Format = "unknown"
)

// Result is importFile's return value.
type Result struct {
	Success bool
	Data    model.ImportStructure
	Errors  []model.ImportDiagnostic
}

// DetectFormat inspects filename and a content sniff to pick a Format.
func DetectFormat(filename string, content []byte) Format {
	lower := strings.ToLower(filename)
	trimmed := strings.TrimSpace(string(content))
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return FormatCSV
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return FormatHTML
	case strings.HasSuffix(lower, ".json"):
		return sniffJSONShape(trimmed)
	}
	switch {
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return sniffJSONShape(trimmed)
	case strings.HasPrefix(trimmed, "<"):
		return FormatHTML
	case strings.Contains(trimmed, ","):
		return FormatCSV
	}
	return FormatUnknown
}

func sniffJSONShape(content string) Format {
	if strings.Contains(content, `"resourceType"`) && strings.Contains(content, `"Bundle"`) {
		return FormatHL7CDA
	}
	return FormatJSON
}

// ImportFile parses content according to its detected (or filename-implied)
// format and returns the canonical ImportStructure.
func ImportFile(content []byte, filename string) Result {
	format := DetectFormat(filename, content)
	switch format {
	case FormatCSV:
		return parseCSV(content)
	case FormatJSON:
		return parseJSON(content)
	case FormatHL7CDA:
		return parseHL7CDA(content)
	case FormatHTML:
		return parseHTML(content)
	default:
		return Result{Success: false, Errors: []model.ImportDiagnostic{
			{Code: "UNRECOGNISED_FORMAT", Message: "could not detect a supported format for " + filename},
		}}
	}
}

// --- JSON (plain ImportStructure) ---

func parseJSON(content []byte) Result {
	var bundle model.ImportStructure
	if err := bundleJSON.Unmarshal(content, &bundle); err != nil {
		return Result{Success: false, Errors: []model.ImportDiagnostic{
			{Code: "PARSE_FAILURE", Message: "invalid JSON bundle: " + err.Error()},
		}}
	}
	bundle.Statistics.PatientCount = len(bundle.Data.Patients)
	bundle.Statistics.VisitCount = len(bundle.Data.Visits)
	bundle.Statistics.ObservationCount = len(bundle.Data.Observations)
	return Result{Success: true, Data: bundle}
}

// --- CSV: two header rows (human labels, then system codes) ---

// parseCSV reads a two-header-row grid: row 1 human labels, row 2 system
// codes (PATIENT_CD, ENCOUNTER_NUM, START_DATE, then one concept column per
// observation concept). Each data row becomes one visit and one observation
// per populated concept column; a patient is added the first time its
// PATIENT_CD appears.
func parseCSV(content []byte) Result {
	r := csv.NewReader(strings.NewReader(string(content)))
	r.FieldsPerRecord = -1

	labelsRow, err := r.Read()
	if err != nil {
		return parseFailure("missing label header row: " + err.Error())
	}
	codesRow, err := r.Read()
	if err != nil {
		return parseFailure("missing code header row: " + err.Error())
	}
	if len(codesRow) < 3 {
		return parseFailure("code header row must have at least PATIENT_CD, ENCOUNTER_NUM, START_DATE")
	}
	_ = labelsRow // row 1 is display-only; parsing keys off row 2's codes

	var bundle model.ImportStructure
	bundle.Metadata.Format = string(FormatCSV)
	var diagnostics []model.ImportDiagnostic

	patientSeen := map[string]bool{}
	lineNum := 3
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			diagnostics = append(diagnostics, model.ImportDiagnostic{Code: "PARSE_FAILURE", Message: err.Error(), Line: lineNum})
			lineNum++
			continue
		}
		if len(rec) < 3 {
			diagnostics = append(diagnostics, model.ImportDiagnostic{Code: "MALFORMED_ROW", Message: "row has fewer than 3 columns", Line: lineNum})
			lineNum++
			continue
		}
		patientCD, encounterNum, startDate := rec[0], rec[1], rec[2]
		if patientCD == "" {
			diagnostics = append(diagnostics, model.ImportDiagnostic{Code: "MISSING_PATIENT_ID", Message: "row is missing PATIENT_CD", Line: lineNum})
			lineNum++
			continue
		}
		if !patientSeen[patientCD] {
			patientSeen[patientCD] = true
			bundle.Data.Patients = append(bundle.Data.Patients, model.RawPatient{PatientCD: patientCD})
		}
		bundle.Data.Visits = append(bundle.Data.Visits, model.RawVisit{
			PatientCD: patientCD, EncounterNum: encounterNum, StartDate: startDate,
		})
		for col := 3; col < len(rec) && col < len(codesRow); col++ {
			value := strings.TrimSpace(rec[col])
			if value == "" {
				continue
			}
			conceptCD := codesRow[col]
			obs := model.RawObservation{
				PatientCD: patientCD, EncounterNum: encounterNum, ConceptCD: conceptCD, StartDate: startDate,
			}
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				obs.ValTypeCD = "N"
				obs.NValNum = &f
			} else {
				obs.ValTypeCD = "T"
				obs.TValChar = value
			}
			bundle.Data.Observations = append(bundle.Data.Observations, obs)
		}
		lineNum++
	}

	bundle.Metadata.PatientCount = len(bundle.Data.Patients)
	bundle.Metadata.VisitCount = len(bundle.Data.Visits)
	bundle.Metadata.ObservationCount = len(bundle.Data.Observations)
	bundle.Statistics = model.ImportStatistics{
		PatientCount: bundle.Metadata.PatientCount, VisitCount: bundle.Metadata.VisitCount,
		ObservationCount: bundle.Metadata.ObservationCount,
	}
	return Result{Success: len(diagnostics) == 0, Data: bundle, Errors: diagnostics}
}

func parseFailure(msg string) Result {
	return Result{Success: false, Errors: []model.ImportDiagnostic{{Code: "PARSE_FAILURE", Message: msg}}}
}

// --- HL7-CDA JSON: {resourceType:"Bundle", entry:[{resource:...}]} ---

type fhirBundle struct {
	ResourceType string      `json:"resourceType"`
	Entry        []fhirEntry `json:"entry"`
}

type fhirEntry struct {
	Resource fhirResource `json:"resource"`
}

type fhirResource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`

	// Patient fields
	Gender    string `json:"gender,omitempty"`
	BirthDate string `json:"birthDate,omitempty"`

	// Encounter fields
	Subject *fhirRef    `json:"subject,omitempty"`
	Period  *fhirPeriod `json:"period,omitempty"`
	Class   *fhirCoding `json:"class,omitempty"`

	// Observation fields
	Encounter *fhirRef         `json:"encounter,omitempty"`
	Code      *fhirCodeable    `json:"code,omitempty"`
	ValueQty  *fhirQuantity    `json:"valueQuantity,omitempty"`
	ValueStr  string           `json:"valueString,omitempty"`
	EffDate   string           `json:"effectiveDateTime,omitempty"`
}

type fhirRef struct {
	Reference string `json:"reference"`
}

type fhirPeriod struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type fhirCoding struct {
	Code string `json:"code"`
}

type fhirCodeable struct {
	Coding []fhirCoding `json:"coding"`
}

type fhirQuantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

func parseHL7CDA(content []byte) Result {
	var doc fhirBundle
	if err := bundleJSON.Unmarshal(content, &doc); err != nil {
		return parseFailure("invalid HL7-CDA bundle: " + err.Error())
	}
	if doc.ResourceType != "Bundle" {
		return parseFailure("expected resourceType Bundle, got " + doc.ResourceType)
	}

	var bundle model.ImportStructure
	bundle.Metadata.Format = string(FormatHL7CDA)

	for _, e := range doc.Entry {
		res := e.Resource
		switch res.ResourceType {
		case "Patient":
			bundle.Data.Patients = append(bundle.Data.Patients, model.RawPatient{
				PatientCD: res.ID, SexCD: res.Gender, BirthDate: res.BirthDate,
			})
		case "Encounter":
			patientCD := refID(res.Subject)
			start, end := "", ""
			if res.Period != nil {
				start, end = res.Period.Start, res.Period.End
			}
			inout := ""
			if res.Class != nil {
				inout = res.Class.Code
			}
			bundle.Data.Visits = append(bundle.Data.Visits, model.RawVisit{
				EncounterNum: res.ID, PatientCD: patientCD, StartDate: start, EndDate: end, InOutCD: inout,
			})
		case "Observation":
			patientCD := refID(res.Subject)
			encounterNum := refID(res.Encounter)
			conceptCD := ""
			if res.Code != nil && len(res.Code.Coding) > 0 {
				conceptCD = res.Code.Coding[0].Code
			}
			obs := model.RawObservation{
				PatientCD: patientCD, EncounterNum: encounterNum, ConceptCD: conceptCD, StartDate: res.EffDate,
			}
			if res.ValueQty != nil {
				obs.ValTypeCD = "N"
				v := res.ValueQty.Value
				obs.NValNum = &v
				obs.UnitCD = res.ValueQty.Unit
			} else {
				obs.ValTypeCD = "T"
				obs.TValChar = res.ValueStr
			}
			bundle.Data.Observations = append(bundle.Data.Observations, obs)
		}
	}

	bundle.Metadata.PatientCount = len(bundle.Data.Patients)
	bundle.Metadata.VisitCount = len(bundle.Data.Visits)
	bundle.Metadata.ObservationCount = len(bundle.Data.Observations)
	bundle.Statistics = model.ImportStatistics{
		PatientCount: bundle.Metadata.PatientCount, VisitCount: bundle.Metadata.VisitCount,
		ObservationCount: bundle.Metadata.ObservationCount,
	}
	return Result{Success: true, Data: bundle}
}

func refID(ref *fhirRef) string {
	if ref == nil {
		return ""
	}
	parts := strings.SplitN(ref.Reference, "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ref.Reference
}

// --- HTML embedding a CDA JSON payload in a <script type="application/json"> block ---

var embeddedCDARe = regexp.MustCompile(`(?s)<script[^>]*type="application/json"[^>]*id="cda-bundle"[^>]*>(.*?)</script>`)

func parseHTML(content []byte) Result {
	matches := embeddedCDARe.FindSubmatch(content)
	if matches == nil {
		return parseFailure("no embedded CDA bundle script tag found in HTML document")
	}
	return parseHL7CDA(matches[1])
}
