// Package export formats the canonical model.ImportStructure as CSV, plain
// JSON, or HL7-CDA, with an optional gzip body and an optional RSA-PSS
// signature on the HL7-CDA document.
//
// The CSV shape mirrors what importpipeline's parseCSV inverts; gzip uses
// klauspost/compress/gzip, a byte-compatible drop-in for stdlib
// compress/gzip; the HL7-CDA signature uses stdlib
// crypto/rsa+crypto/x509+encoding/pem, the same certificate-handling stack
// used for self-signed certs elsewhere in the pack.
package export

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/csv"
	"encoding/pem"
	"fmt"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"

	"github.com/JenAIx/best-sub007/internal/conceptcache"
	"github.com/JenAIx/best-sub007/internal/model"
)

var bundleJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Options controls the shared knobs across every format.
type Options struct {
	Compress bool // gzip the rendered body with klauspost/compress/gzip
}

// ToJSON serialises bundle verbatim as the canonical ImportStructure.
func ToJSON(bundle model.ImportStructure, opts Options) ([]byte, error) {
	body, err := bundleJSON.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal json: %w", err)
	}
	if opts.Compress {
		return gzipBytes(body)
	}
	return body, nil
}

// ToCSV renders the two-header-row CSV shape: row 1 human labels resolved
// via the concept cache, row 2 system codes; each visit
// cross-joined with its observations pivoted by concept column, multiple
// observations per (visit, concept) collapsed with a semicolon join.
func ToCSV(bundle model.ImportStructure, cache *conceptcache.Cache, opts Options) ([]byte, error) {
	concepts := distinctConcepts(bundle.Data.Observations)
	labels := map[string]string{}
	if cache != nil {
		resolved, err := cache.ResolveBatch(context.Background(), concepts, conceptcache.ResolveOptions{})
		if err == nil {
			for code, r := range resolved {
				labels[code] = r.Label
			}
		}
	}

	visitsByKey := bundle.Data.Visits
	obsByVisit := map[string][]model.RawObservation{}
	for _, o := range bundle.Data.Observations {
		key := observationVisitKey(o)
		obsByVisit[key] = append(obsByVisit[key], o)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	labelRow := []string{"Patient", "Encounter", "Visit Start"}
	codeRow := []string{"PATIENT_CD", "ENCOUNTER_NUM", "START_DATE"}
	for _, c := range concepts {
		label := labels[c]
		if label == "" {
			label = c
		}
		labelRow = append(labelRow, label)
		codeRow = append(codeRow, c)
	}
	if err := w.Write(labelRow); err != nil {
		return nil, err
	}
	if err := w.Write(codeRow); err != nil {
		return nil, err
	}

	for _, v := range visitsByKey {
		key := v.EncounterNum
		if key == "" {
			key = v.PatientCD + "|" + v.StartDate
		}
		row := []string{v.PatientCD, v.EncounterNum, v.StartDate}
		byConcept := map[string][]string{}
		for _, o := range obsByVisit[key] {
			byConcept[o.ConceptCD] = append(byConcept[o.ConceptCD], observationDisplayValue(o))
		}
		for _, c := range concepts {
			row = append(row, strings.Join(byConcept[c], ";"))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	if opts.Compress {
		return gzipBytes(buf.Bytes())
	}
	return buf.Bytes(), nil
}

func observationVisitKey(o model.RawObservation) string {
	if o.EncounterNum != "" {
		return o.EncounterNum
	}
	return o.PatientCD + "|" + o.StartDate
}

func observationDisplayValue(o model.RawObservation) string {
	if o.NValNum != nil {
		return strconv.FormatFloat(*o.NValNum, 'g', -1, 64)
	}
	return o.TValChar
}

func distinctConcepts(obs []model.RawObservation) []string {
	seen := map[string]bool{}
	var out []string
	for _, o := range obs {
		if o.ConceptCD == "" || seen[o.ConceptCD] {
			continue
		}
		seen[o.ConceptCD] = true
		out = append(out, o.ConceptCD)
	}
	sort.Strings(out)
	return out
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(b); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- HL7-CDA (FHIR-Bundle-shaped JSON) ---

// CdaDocument is the exportToHl7 output shape: a FHIR-compatible bundle plus
// an optional digital signature over its canonical content.
type CdaDocument struct {
	ResourceType string           `json:"resourceType"`
	Entry        []map[string]any `json:"entry"`
	Signature    *Signature       `json:"signature,omitempty"`
}

// Signature carries the algorithm name and the raw signature bytes
// (base64-encoded when marshalled to JSON).
type Signature struct {
	Algorithm string `json:"algorithm"`
	Value     []byte `json:"value"`
}

// ToHL7 renders bundle as an HL7-CDA/FHIR-Bundle JSON document. When
// privateKeyPEM is non-empty, the document is signed with RSA-PSS over the
// SHA-256 digest of its unsigned canonical JSON bytes.
func ToHL7(bundle model.ImportStructure, privateKeyPEM []byte) ([]byte, error) {
	doc := CdaDocument{ResourceType: "Bundle"}
	for _, p := range bundle.Data.Patients {
		doc.Entry = append(doc.Entry, map[string]any{
			"resource": map[string]any{
				"resourceType": "Patient", "id": p.PatientCD, "gender": p.SexCD, "birthDate": p.BirthDate,
			},
		})
	}
	for _, v := range bundle.Data.Visits {
		doc.Entry = append(doc.Entry, map[string]any{
			"resource": map[string]any{
				"resourceType": "Encounter", "id": v.EncounterNum,
				"subject": map[string]string{"reference": "Patient/" + v.PatientCD},
				"period":  map[string]string{"start": v.StartDate, "end": v.EndDate},
			},
		})
	}
	for i, o := range bundle.Data.Observations {
		entry := map[string]any{
			"resourceType": "Observation",
			"id":           fmt.Sprintf("obs-%d", i),
			"subject":      map[string]string{"reference": "Patient/" + o.PatientCD},
			"encounter":    map[string]string{"reference": "Encounter/" + o.EncounterNum},
			"code":         map[string]any{"coding": []map[string]string{{"code": o.ConceptCD}}},
			"effectiveDateTime": o.StartDate,
		}
		if o.NValNum != nil {
			entry["valueQuantity"] = map[string]any{"value": *o.NValNum, "unit": o.UnitCD}
		} else {
			entry["valueString"] = o.TValChar
		}
		doc.Entry = append(doc.Entry, map[string]any{"resource": entry})
	}

	unsigned, err := bundleJSON.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("export: marshal hl7-cda: %w", err)
	}
	if len(privateKeyPEM) == 0 {
		return unsigned, nil
	}

	sig, err := signPSS(privateKeyPEM, unsigned)
	if err != nil {
		return nil, err
	}
	doc.Signature = &Signature{Algorithm: "RSA-PSS-SHA256", Value: sig}
	return bundleJSON.Marshal(doc)
}

func signPSS(privateKeyPEM, content []byte) ([]byte, error) {
	key, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(content)
	return rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], nil)
}

// VerifyCda checks doc's embedded signature against publicKeyPEM. It
// recomputes the digest over the document with its signature stripped, so
// verification is independent of how the signature field was serialised.
func VerifyCda(docJSON, publicKeyPEM []byte) (bool, error) {
	var doc CdaDocument
	if err := bundleJSON.Unmarshal(docJSON, &doc); err != nil {
		return false, fmt.Errorf("export: unmarshal signed document: %w", err)
	}
	if doc.Signature == nil {
		return false, fmt.Errorf("export: document carries no signature")
	}
	sig := doc.Signature
	doc.Signature = nil
	unsigned, err := bundleJSON.Marshal(doc)
	if err != nil {
		return false, err
	}

	pub, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(unsigned)
	err = rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig.Value, nil)
	return err == nil, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("export: invalid PEM private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("export: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("export: private key is not RSA")
	}
	return key, nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("export: invalid PEM public key")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("export: parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("export: public key is not RSA")
	}
	return key, nil
}
