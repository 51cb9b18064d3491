package repository

import (
	"fmt"
	"time"

	"github.com/JenAIx/best-sub007/internal/model"
)

// sqlite (modernc.org/sqlite) surfaces TEXT columns as string or []byte
// depending on path; these helpers normalise either into Go values and
// tolerate NULL (nil).

func strOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func strPtrOf(v any) *string {
	if v == nil {
		return nil
	}
	s := strOf(v)
	return &s
}

func int64Of(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func int64PtrOf(v any) *int64 {
	if v == nil {
		return nil
	}
	n := int64Of(v)
	return &n
}

func float64Of(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func float64PtrOf(v any) *float64 {
	if v == nil {
		return nil
	}
	f := float64Of(v)
	return &f
}

func intPtrOf(v any) *int {
	if v == nil {
		return nil
	}
	n := int(int64Of(v))
	return &n
}

// timeLayout is the canonical wire format written by every component that
// produces its own timestamps (datetime('now') in sqlite emits this shape).
const timeLayout = "2006-01-02 15:04:05"

func timeOf(v any) (time.Time, error) {
	s := strOf(v)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func timePtrOf(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	if strOf(v) == "" {
		return nil, nil
	}
	t, err := timeOf(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func blobOf(v any) model.Blob {
	if v == nil {
		return nil
	}
	switch b := v.(type) {
	case []byte:
		if len(b) == 0 {
			return nil
		}
		return model.Blob(b)
	case string:
		if b == "" {
			return nil
		}
		return model.Blob(b)
	default:
		return nil
	}
}

func blobArg(b model.Blob) any {
	if b.IsEmpty() {
		return nil
	}
	return []byte(b)
}
