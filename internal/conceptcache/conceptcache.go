// Package conceptcache resolves concept/lookup codes to a display-ready
// record (label, colour/icon hints, value type, unit) with at most two
// storage round trips per batch, and evicts with process lifetime (no TTL).
// Resolution normalises alias prefixes (model.PrefixMap) before matching,
// so differently-prefixed codes for the same concept resolve to one row.
//
// The ordered prefix index uses google/btree the way the pack's
// higher-throughput services reach for an ordered in-memory index rather
// than a linear scan for prefix lookups.
package conceptcache

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// Source identifies which layer resolved a code.
type Source string

const (
	SourceConcept  Source = "concept"
	SourceLookup   Source = "lookup"
	SourceFallback Source = "fallback"
)

// Resolved is the display-ready record resolve/resolveBatch returns.
type Resolved struct {
	Code      string
	Label     string
	Color     string
	Icon      string
	Resolved  bool
	Source    Source
	ValueType model.ValueType
	Unit      string
}

// ResolveOptions narrows a CODE_LOOKUP fallback query.
type ResolveOptions struct {
	Context string // colour-mapper keyword context: visit_status, gender, vital_status, severity, ...
	Table   string
	Column  string
}

// conceptEntry is the btree item backing the ordered prefix index.
type conceptEntry struct {
	code    string
	concept model.Concept
}

func (e conceptEntry) Less(than btree.Item) bool {
	return e.code < than.(conceptEntry).code
}

// Cache resolves codes for the lifetime of one process; it holds no TTL and
// is rebuilt (Refresh) when the caller wants to observe newly imported
// concepts.
type Cache struct {
	h        storage.Executor
	log      *zap.Logger
	prefixes *model.PrefixMap

	mu    sync.RWMutex
	index *btree.BTree // ordered by concept_cd, for prefix search
}

// New builds an empty Cache, seeded with model.DefaultPrefixMap() for the
// `LID:`/`SCTID:`-style alias normalisation ResolveBatch applies before
// matching against concept_dimension. Call Refresh before SearchConcepts or
// CodeFromLabel: Resolve and ResolveBatch query storage directly and never
// populate the index.
func New(h storage.Executor, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{h: h, log: log, index: btree.New(32), prefixes: model.DefaultPrefixMap()}
}

// SetPrefixMap overrides the cache's code-normalisation rules (e.g. a
// deployment-specific alias table loaded alongside the seed data).
func (c *Cache) SetPrefixMap(pm *model.PrefixMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes = pm
}

// WithExecutor returns a shallow copy of the cache bound to a different
// executor (typically a *storage.Tx), sharing the same in-memory index but
// issuing its lookup queries against the given transaction scope.
func (c *Cache) WithExecutor(exec storage.Executor) *Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Cache{h: exec, log: c.log, index: c.index, prefixes: c.prefixes}
}

// Refresh reloads the entire concept_dimension into the ordered index, for
// callers that want searchConcepts to see recent imports immediately.
func (c *Cache) Refresh(ctx context.Context) error {
	res, err := c.h.ExecuteQuery(ctx, `SELECT * FROM concept_dimension`)
	if err != nil {
		return err
	}
	next := btree.New(32)
	for _, row := range res.Data {
		concept := scanConcept(row)
		next.ReplaceOrInsert(conceptEntry{code: concept.ConceptCD, concept: concept})
	}
	c.mu.Lock()
	c.index = next
	c.mu.Unlock()
	return nil
}

func scanConcept(row storage.Row) model.Concept {
	str := func(v any) string {
		switch s := v.(type) {
		case string:
			return s
		case []byte:
			return string(s)
		default:
			return ""
		}
	}
	return model.Concept{
		ConceptCD:      str(row["concept_cd"]),
		ConceptPath:    str(row["concept_path"]),
		DisplayName:    str(row["display_name"]),
		CategoryCD:     str(row["category_cd"]),
		ValTypeCD:      model.ValueType(str(row["valtype_cd"])),
		UnitCD:         str(row["unit_cd"]),
		SourceSystemCD: str(row["sourcesystem_cd"]),
		RelatedConcept: str(row["related_concept"]),
	}
}

// Resolve resolves a single code: concept_dimension first, then code_lookup,
// then a deterministic fallback.
func (c *Cache) Resolve(ctx context.Context, code string, opts ResolveOptions) (Resolved, error) {
	out, err := c.ResolveBatch(ctx, []string{code}, opts)
	if err != nil {
		return Resolved{}, err
	}
	return out[code], nil
}

// ResolveBatch resolves every code in codes using at most two round trips:
// one SELECT ... WHERE concept_cd IN (...) against concept_dimension
// (matched after prefix normalisation, so a `LID:` and `LOINC:` code for the
// same concept both hit the same row), then one SELECT ... WHERE code_cd IN
// (...) against code_lookup for whatever concept_dimension missed.
func (c *Cache) ResolveBatch(ctx context.Context, codes []string, opts ResolveOptions) (map[string]Resolved, error) {
	out := make(map[string]Resolved, len(codes))
	if len(codes) == 0 {
		return out, nil
	}

	missing := make([]string, 0, len(codes))
	seen := map[string]bool{}
	var dedup []string
	for _, code := range codes {
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		dedup = append(dedup, code)
	}

	// Codes are normalised (LID:/SCTID:-style aliases folded to their
	// canonical prefix, invariant 4 / P7) before matching concept_dimension,
	// whose own concept_cd values are always stored canonical; the result is
	// still keyed by the caller's original, un-normalised code.
	normToOriginals := map[string][]string{}
	normDedup := make([]string, 0, len(dedup))
	for _, code := range dedup {
		norm := code
		if c.prefixes != nil {
			norm = c.prefixes.Normalize(code)
		}
		if _, ok := normToOriginals[norm]; !ok {
			normDedup = append(normDedup, norm)
		}
		normToOriginals[norm] = append(normToOriginals[norm], code)
	}

	placeholders, args := inClause(normDedup)
	conceptRows, err := c.h.ExecuteQuery(ctx,
		`SELECT * FROM concept_dimension WHERE concept_cd IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	byCode := map[string]model.Concept{}
	for _, row := range conceptRows.Data {
		con := scanConcept(row)
		byCode[con.ConceptCD] = con
	}
	for _, norm := range normDedup {
		con, ok := byCode[norm]
		if !ok {
			missing = append(missing, normToOriginals[norm]...)
			continue
		}
		for _, orig := range normToOriginals[norm] {
			out[orig] = Resolved{
				Code: con.ConceptCD, Label: con.DisplayName, ValueType: con.ValTypeCD, Unit: con.UnitCD,
				Resolved: true, Source: SourceConcept,
			}
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	lookupQuery := `SELECT * FROM code_lookup WHERE code_cd IN (`
	ph, lookupArgs := inClause(missing)
	lookupQuery += ph + ")"
	if opts.Table != "" {
		lookupQuery += " AND table_cd = ?"
		lookupArgs = append(lookupArgs, opts.Table)
	}
	if opts.Column != "" {
		lookupQuery += " AND column_cd = ?"
		lookupArgs = append(lookupArgs, opts.Column)
	}
	lookupRows, err := c.h.ExecuteQuery(ctx, lookupQuery, lookupArgs...)
	if err != nil {
		return nil, err
	}
	byLookup := map[string]storage.Row{}
	for _, row := range lookupRows.Data {
		code := rowStr(row["code_cd"])
		byLookup[code] = row
	}

	for _, code := range missing {
		row, ok := byLookup[code]
		if !ok {
			out[code] = fallback(code, opts)
			continue
		}
		label := rowStr(row["name_char"])
		color, icon := "", ""
		if raw := row["blob"]; raw != nil {
			b := model.Blob(toBytes(raw))
			if view, err := b.Parse(); err == nil {
				if v, ok := view.Color(); ok {
					color = v
				}
				if v, ok := view.Icon(); ok {
					icon = v
				}
				if v, ok := view.Label(); ok && v != "" {
					label = v
				}
			}
		}
		if color == "" {
			color = colorForContext(opts.Context, code)
		}
		out[code] = Resolved{Code: code, Label: label, Color: color, Icon: icon, Resolved: true, Source: SourceLookup}
	}
	return out, nil
}

// SearchConcepts returns concepts whose code is prefixed by term, topped up
// (while under limit) with concepts whose display name contains term
// case-insensitively, sorted by code. It reads the ordered in-memory index
// (call Refresh first to pick up recent imports).
func (c *Cache) SearchConcepts(term string, limit int) []model.Concept {
	if limit <= 0 {
		limit = 20
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.Concept
	c.index.AscendGreaterOrEqual(conceptEntry{code: term}, func(item btree.Item) bool {
		e := item.(conceptEntry)
		if !strings.HasPrefix(e.code, term) {
			return false
		}
		out = append(out, e.concept)
		return len(out) < limit
	})
	if len(out) < limit {
		c.index.Ascend(func(item btree.Item) bool {
			e := item.(conceptEntry)
			if strings.HasPrefix(e.code, term) {
				return true // already collected by prefix scan above
			}
			if strings.Contains(strings.ToLower(e.concept.DisplayName), strings.ToLower(term)) {
				for _, existing := range out {
					if existing.ConceptCD == e.code {
						return true
					}
				}
				out = append(out, e.concept)
			}
			return len(out) < limit
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConceptCD < out[j].ConceptCD })
	return out
}

// CodeFromLabel reverse-resolves a display label back to its concept code
// within an optional category, for UIs that let a user pick by name.
func (c *Cache) CodeFromLabel(label, category string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var found string
	var ok bool
	c.index.Ascend(func(item btree.Item) bool {
		e := item.(conceptEntry)
		if !strings.EqualFold(e.concept.DisplayName, label) {
			return true
		}
		if category != "" && e.concept.CategoryCD != category {
			return true
		}
		found, ok = e.code, true
		return false
	})
	return found, ok
}

func inClause(vals []string) (string, []any) {
	ph := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return ph, args
}

func rowStr(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func toBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return nil
	}
}

// fallback returns a deterministic, resolved:false record for a code this
// cache could not place in either table.
func fallback(code string, opts ResolveOptions) Resolved {
	label := code
	if short, ok := singleCharLabels[strings.ToUpper(code)]; ok {
		label = short
	}
	return Resolved{Code: code, Label: label, Color: colorForContext(opts.Context, code), Resolved: false, Source: SourceFallback}
}

// singleCharLabels hard-codes the handful of single-character administrative
// codes the colour-mapper heuristic cannot otherwise place.
var singleCharLabels = map[string]string{
	"M": "Male",
	"F": "Female",
	"U": "Unknown",
	"I": "Inpatient",
	"O": "Outpatient",
	"E": "Emergency",
}

// colorForContext implements the keyword colour-mapper heuristic: a handful
// of well-known contexts map known keywords in the code to a colour; an
// unrecognised context/code falls back to a neutral grey.
func colorForContext(context, code string) string {
	upper := strings.ToUpper(code)
	switch context {
	case "visit_status":
		switch {
		case strings.Contains(upper, "ACTIVE"):
			return "green"
		case strings.Contains(upper, "DISCHARGE"):
			return "blue"
		case strings.Contains(upper, "CANCEL"):
			return "red"
		}
	case "gender":
		switch upper {
		case "M", "MALE":
			return "blue"
		case "F", "FEMALE":
			return "pink"
		}
	case "vital_status":
		switch {
		case strings.Contains(upper, "ALIVE"):
			return "green"
		case strings.Contains(upper, "DECEASED"), strings.Contains(upper, "DEAD"):
			return "gray"
		}
	case "severity":
		switch {
		case strings.Contains(upper, "CRITICAL"), strings.Contains(upper, "SEVERE"):
			return "red"
		case strings.Contains(upper, "MODERATE"):
			return "orange"
		case strings.Contains(upper, "MILD"):
			return "yellow"
		}
	}
	return "gray"
}
