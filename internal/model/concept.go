package model

import (
	"fmt"
	"strings"
)

// ValidConceptPath enforces invariant 3: starts with `\`, no `\\`, doesn't
// end with `\`.
func ValidConceptPath(path string) error {
	if !strings.HasPrefix(path, `\`) {
		return fmt.Errorf("concept path %q must start with \\", path)
	}
	if strings.HasSuffix(path, `\`) {
		return fmt.Errorf("concept path %q must not end with \\", path)
	}
	if strings.Contains(path, `\\`) {
		return fmt.Errorf("concept path %q must not contain \\\\", path)
	}
	return nil
}

// PrefixMap maps recognised short prefixes to their canonical long form so
// that two differently-prefixed codes for the same concept normalise
// equal. Configurable and overridable; seeded with the pairs exercised by
// the bundled reference data.
type PrefixMap struct {
	canonical map[string]string // short -> canonical
}

// DefaultPrefixMap returns the built-in LOINC/SNOMED aliasing rules.
func DefaultPrefixMap() *PrefixMap {
	return &PrefixMap{canonical: map[string]string{
		"LID":       "LOINC",
		"LOINC":     "LOINC",
		"SCTID":     "SNOMED-CT",
		"SNOMED-CT": "SNOMED-CT",
		"SNOMED":    "SNOMED-CT",
	}}
}

// Set overrides or adds a prefix alias.
func (m *PrefixMap) Set(shortPrefix, canonicalPrefix string) {
	if m.canonical == nil {
		m.canonical = map[string]string{}
	}
	m.canonical[strings.ToUpper(shortPrefix)] = canonicalPrefix
}

// Normalize splits a concept code of the form `PREFIX: raw` or `PREFIX:raw`
// and rewrites the prefix to its canonical form, so `LID: 8462-4` and
// `LOINC:8462-4` compare equal after normalization.
func (m *PrefixMap) Normalize(code string) string {
	prefix, raw, ok := splitConceptCode(code)
	if !ok {
		return strings.TrimSpace(code)
	}
	canon, known := m.canonical[strings.ToUpper(prefix)]
	if !known {
		canon = prefix
	}
	return fmt.Sprintf("%s:%s", canon, raw)
}

// Equal reports whether two concept codes refer to the same concept under
// the normalisation rule.
func (m *PrefixMap) Equal(a, b string) bool {
	return m.Normalize(a) == m.Normalize(b)
}

func splitConceptCode(code string) (prefix, raw string, ok bool) {
	idx := strings.Index(code, ":")
	if idx < 0 {
		return "", "", false
	}
	prefix = strings.TrimSpace(code[:idx])
	raw = strings.TrimSpace(code[idx+1:])
	if prefix == "" || raw == "" {
		return "", "", false
	}
	return prefix, raw, true
}
