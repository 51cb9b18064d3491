package importpipeline

import (
	"strings"
	"testing"
)

func TestDetectFormatBySuffix(t *testing.T) {
	cases := map[string]Format{
		"bundle.csv":  FormatCSV,
		"bundle.json": FormatJSON,
		"page.html":   FormatHTML,
	}
	for name, want := range cases {
		if got := DetectFormat(name, nil); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestDetectFormatSniffsFHIRBundle(t *testing.T) {
	content := []byte(`{"resourceType":"Bundle","entry":[]}`)
	if got := DetectFormat("unnamed", content); got != FormatHL7CDA {
		t.Errorf("expected FormatHL7CDA, got %q", got)
	}
}

func TestParseCSVTwoHeaderRows(t *testing.T) {
	csvContent := "Patient,Encounter,Visit Start,Heart Rate,Sex\n" +
		"PATIENT_CD,ENCOUNTER_NUM,START_DATE,LOINC:8867-4,SEX_CD\n" +
		"DEMO_PATIENT_01,E1,2024-01-01,72,M\n" +
		"DEMO_PATIENT_02,E2,2024-02-01,88,F\n"

	result := ImportFile([]byte(csvContent), "bundle.csv")
	if !result.Success {
		t.Fatalf("expected success, got errors %+v", result.Errors)
	}
	if len(result.Data.Data.Patients) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(result.Data.Data.Patients))
	}
	if len(result.Data.Data.Visits) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(result.Data.Data.Visits))
	}
	if len(result.Data.Data.Observations) != 4 {
		t.Fatalf("expected 4 observations (heart rate + sex per patient), got %d", len(result.Data.Data.Observations))
	}
	for _, obs := range result.Data.Data.Observations {
		if obs.ConceptCD == "LOINC:8867-4" && obs.ValTypeCD != "N" {
			t.Errorf("expected numeric heart rate observation, got ValTypeCD=%s", obs.ValTypeCD)
		}
		if obs.ConceptCD == "SEX_CD" && obs.ValTypeCD != "T" {
			t.Errorf("expected text sex observation, got ValTypeCD=%s", obs.ValTypeCD)
		}
	}
}

func TestParseCSVFlagsMissingPatientID(t *testing.T) {
	csvContent := "Patient,Encounter,Visit Start\n" +
		"PATIENT_CD,ENCOUNTER_NUM,START_DATE\n" +
		",E1,2024-01-01\n"

	result := ImportFile([]byte(csvContent), "bundle.csv")
	if result.Success {
		t.Fatalf("expected failure for missing patient id")
	}
	if len(result.Errors) == 0 || result.Errors[0].Code != "MISSING_PATIENT_ID" {
		t.Errorf("expected MISSING_PATIENT_ID diagnostic, got %+v", result.Errors)
	}
}

func TestParseJSONRoundTrip(t *testing.T) {
	jsonContent := `{
		"metadata": {"format": "json", "patientCount": 1, "visitCount": 0, "observationCount": 0, "options": {}},
		"exportInfo": {"format": "json", "exportedAt": "2024-01-01T00:00:00Z"},
		"data": {"patients": [{"PATIENT_CD": "DEMO_PATIENT_01"}], "visits": [], "observations": []},
		"statistics": {"patientCount": 1, "visitCount": 0, "observationCount": 0, "fetchedAt": "2024-01-01T00:00:00Z"}
	}`
	result := ImportFile([]byte(jsonContent), "bundle.json")
	if !result.Success {
		t.Fatalf("expected success, got errors %+v", result.Errors)
	}
	if len(result.Data.Data.Patients) != 1 || result.Data.Data.Patients[0].PatientCD != "DEMO_PATIENT_01" {
		t.Fatalf("unexpected patients: %+v", result.Data.Data.Patients)
	}
}

func TestParseHL7CDABundle(t *testing.T) {
	bundle := `{
		"resourceType": "Bundle",
		"entry": [
			{"resource": {"resourceType": "Patient", "id": "DEMO_PATIENT_01", "gender": "SCTID: 248153007"}},
			{"resource": {"resourceType": "Encounter", "id": "E1", "subject": {"reference": "Patient/DEMO_PATIENT_01"}, "period": {"start": "2024-01-01"}}},
			{"resource": {"resourceType": "Observation", "id": "O1", "subject": {"reference": "Patient/DEMO_PATIENT_01"}, "encounter": {"reference": "Encounter/E1"}, "code": {"coding": [{"code": "LID: 2947-0"}]}, "valueQuantity": {"value": 140, "unit": "mmol/L"}}}
		]
	}`
	result := ImportFile([]byte(bundle), "bundle.json")
	if !result.Success {
		t.Fatalf("expected success, got errors %+v", result.Errors)
	}
	if len(result.Data.Data.Patients) != 1 {
		t.Fatalf("expected 1 patient, got %d", len(result.Data.Data.Patients))
	}
	if len(result.Data.Data.Observations) != 1 || result.Data.Data.Observations[0].ConceptCD != "LID: 2947-0" {
		t.Fatalf("unexpected observations: %+v", result.Data.Data.Observations)
	}
}

func TestParseHTMLExtractsEmbeddedBundle(t *testing.T) {
	bundleJSON := `{"resourceType":"Bundle","entry":[{"resource":{"resourceType":"Patient","id":"DEMO_PATIENT_01"}}]}`
	html := `<html><body><script type="application/json" id="cda-bundle">` + bundleJSON + `</script></body></html>`
	result := ImportFile([]byte(html), "page.html")
	if !result.Success {
		t.Fatalf("expected success, got errors %+v", result.Errors)
	}
	if len(result.Data.Data.Patients) != 1 {
		t.Fatalf("expected 1 patient extracted from embedded bundle, got %d", len(result.Data.Data.Patients))
	}
}

func TestImportFileUnrecognisedFormat(t *testing.T) {
	result := ImportFile([]byte("not a known shape"), "mystery.bin")
	if result.Success {
		t.Fatalf("expected failure for unrecognised format")
	}
	if !strings.Contains(result.Errors[0].Message, "mystery.bin") {
		t.Errorf("expected error message to name the file, got %q", result.Errors[0].Message)
	}
}
