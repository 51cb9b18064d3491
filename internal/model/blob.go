package model

import jsoniter "github.com/json-iterator/go"

var blobJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Blob is the serialised form of a *_BLOB column. It is stored and
// transported as raw JSON and only parsed into a typed view on demand via
// a lazy, explicit accessor rather than decoded eagerly on every read.
type Blob []byte

// IsEmpty reports whether the blob carries no data.
func (b Blob) IsEmpty() bool { return len(b) == 0 }

// MarshalJSON makes Blob behave like a raw JSON value when embedded in a
// struct that itself gets marshalled.
func (b Blob) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return b, nil
}

func (b *Blob) UnmarshalJSON(data []byte) error {
	*b = append((*b)[0:0], data...)
	return nil
}

// View is the free-form map representation of a blob plus typed accessors
// for the well-known keys the engine cares about (UI hints, raw/blob
// metadata, questionnaire notes).
type View struct {
	raw map[string]any
}

// Parse decodes the blob into a View. An empty blob parses to an empty View.
func (b Blob) Parse() (View, error) {
	v := View{raw: map[string]any{}}
	if b.IsEmpty() {
		return v, nil
	}
	if err := blobJSON.Unmarshal(b, &v.raw); err != nil {
		return View{}, err
	}
	return v, nil
}

func (v View) String(key string) (string, bool) {
	if s, ok := v.raw[key].(string); ok {
		return s, true
	}
	return "", false
}

func (v View) Color() (string, bool)  { return v.String("color") }
func (v View) Icon() (string, bool)   { return v.String("icon") }
func (v View) Label() (string, bool)  { return v.String("label") }
func (v View) Filename() (string, bool) { return v.String("filename") }

// VisitConvention models the `{visitType, notes}` convention used for
// Visit blobs.
type VisitConvention struct {
	VisitType string `json:"visitType,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (v View) VisitConvention() VisitConvention {
	out := VisitConvention{}
	if s, ok := v.String("visitType"); ok {
		out.VisitType = s
	}
	if s, ok := v.String("notes"); ok {
		out.Notes = s
	}
	return out
}

// Raw returns the underlying free-form map for callers that need full access.
func (v View) Raw() map[string]any { return v.raw }

// NewBlob marshals an arbitrary value into a Blob.
func NewBlob(v any) (Blob, error) {
	if v == nil {
		return nil, nil
	}
	b, err := blobJSON.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Blob(b), nil
}
