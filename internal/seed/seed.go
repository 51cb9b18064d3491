// Package seed loads bundled reference data (concepts, code lookups, CQL
// rules, standard users, concept-CQL links) from tabular files after
// migrations apply. Idempotent: each row is inserted only if its natural
// key is absent.
//
// Grounded on the localdb Put/Get idempotent-upsert style found elsewhere
// in the pack, adapted to a relational INSERT-if-absent over the real
// schema.
package seed

import (
	"context"
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/JenAIx/best-sub007/internal/storage"
)

//go:embed data/*.csv
var bundled embed.FS

// Report is the per-file row count returned by Load.
type Report struct {
	ConceptsInserted   int
	CodeLookupInserted int
	CqlRulesInserted   int
	UsersInserted      int
	ConceptCqlLinks    int
}

// Loader loads bundled reference data into a storage.Handle.
type Loader struct {
	h   *storage.Handle
	log *zap.Logger
	fs  fileSource
}

type fileSource interface {
	ReadFile(name string) ([]byte, error)
}

// New builds a Loader reading from the module's embedded data files.
func New(h *storage.Handle, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{h: h, log: log, fs: bundled}
}

// Load runs every seed step. Each step is independently idempotent so Load
// may be called repeatedly (e.g. after Runtime.Reset).
func (l *Loader) Load(ctx context.Context) (Report, error) {
	var rep Report
	var err error

	if rep.ConceptsInserted, err = l.loadConcepts(ctx); err != nil {
		return rep, err
	}
	if rep.CodeLookupInserted, err = l.loadCodeLookup(ctx); err != nil {
		return rep, err
	}
	if rep.CqlRulesInserted, err = l.loadCqlRules(ctx); err != nil {
		return rep, err
	}
	if rep.UsersInserted, err = l.loadUsers(ctx); err != nil {
		return rep, err
	}
	if rep.ConceptCqlLinks, err = l.loadConceptCqlLinks(ctx); err != nil {
		return rep, err
	}
	l.log.Info("seed load complete",
		zap.Int("concepts", rep.ConceptsInserted),
		zap.Int("codeLookup", rep.CodeLookupInserted),
		zap.Int("cqlRules", rep.CqlRulesInserted),
		zap.Int("users", rep.UsersInserted),
		zap.Int("conceptCqlLinks", rep.ConceptCqlLinks),
	)
	return rep, nil
}

func (l *Loader) readCSV(name string) ([][]string, error) {
	b, err := l.fs.ReadFile("data/" + name)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", name, err)
	}
	r := csv.NewReader(strings.NewReader(string(b)))
	r.FieldsPerRecord = -1
	var rows [][]string
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse seed file %s: %w", name, err)
		}
		if header {
			header = false
			continue
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func (l *Loader) loadConcepts(ctx context.Context) (int, error) {
	rows, err := l.readCSV("concepts.csv")
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, r := range rows {
		if len(r) < 8 {
			continue
		}
		exists, err := l.exists(ctx, `SELECT 1 FROM concept_dimension WHERE concept_cd = ?`, r[0])
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		related := any(nil)
		if r[7] != "" {
			related = r[7]
		}
		unit := any(nil)
		if r[5] != "" {
			unit = r[5]
		}
		if _, err := l.h.ExecuteCommand(ctx,
			`INSERT INTO concept_dimension(concept_cd, concept_path, display_name, category_cd, valtype_cd, unit_cd, sourcesystem_cd, related_concept)
			 VALUES (?,?,?,?,?,?,?,?)`,
			r[0], r[1], r[2], r[3], r[4], unit, r[6], related); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (l *Loader) loadCodeLookup(ctx context.Context) (int, error) {
	rows, err := l.readCSV("code_lookup.csv")
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, r := range rows {
		if len(r) < 4 {
			continue
		}
		exists, err := l.exists(ctx,
			`SELECT 1 FROM code_lookup WHERE table_cd=? AND column_cd=? AND code_cd=?`, r[0], r[1], r[2])
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		var blob any
		if len(r) > 4 && r[4] != "" {
			blob = r[4]
		}
		if _, err := l.h.ExecuteCommand(ctx,
			`INSERT INTO code_lookup(table_cd, column_cd, code_cd, name_char, blob) VALUES (?,?,?,?,?)`,
			r[0], r[1], r[2], r[3], blob); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (l *Loader) loadCqlRules(ctx context.Context) (int, error) {
	rows, err := l.readCSV("cql_rules.csv")
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, r := range rows {
		if len(r) < 3 {
			continue
		}
		exists, err := l.exists(ctx, `SELECT 1 FROM cql_rule WHERE code_cd = ?`, r[0])
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		desc := any(nil)
		if len(r) > 3 && r[3] != "" {
			desc = r[3]
		}
		if _, err := l.h.ExecuteCommand(ctx,
			`INSERT INTO cql_rule(code_cd, name, body, description) VALUES (?,?,?,?)`,
			r[0], r[1], r[2], desc); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (l *Loader) loadConceptCqlLinks(ctx context.Context) (int, error) {
	rows, err := l.readCSV("concept_cql_links.csv")
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		var cqlID int64
		row, err := l.h.ExecuteQuery(ctx, `SELECT cql_id FROM cql_rule WHERE code_cd = ?`, r[1])
		if err != nil {
			return inserted, err
		}
		if len(row.Data) == 0 {
			continue
		}
		switch v := row.Data[0]["cql_id"].(type) {
		case int64:
			cqlID = v
		default:
			cqlID, _ = strconv.ParseInt(fmt.Sprint(v), 10, 64)
		}
		exists, err := l.exists(ctx,
			`SELECT 1 FROM concept_cql_lookup WHERE concept_cd=? AND cql_id=?`, r[0], cqlID)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		if _, err := l.h.ExecuteCommand(ctx,
			`INSERT INTO concept_cql_lookup(concept_cd, cql_id) VALUES (?,?)`, r[0], cqlID); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// placeholderPasswordMarker prefixes seed user rows whose password must be
// bcrypt-hashed at load time rather than stored in clear in the bundled file.
const placeholderPasswordMarker = "__BCRYPT__"

func (l *Loader) loadUsers(ctx context.Context) (int, error) {
	rows, err := l.readCSV("users.csv")
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, r := range rows {
		if len(r) < 4 {
			continue
		}
		exists, err := l.exists(ctx, `SELECT 1 FROM user_account WHERE user_cd = ?`, r[0])
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		hash := r[2]
		if strings.HasPrefix(hash, placeholderPasswordMarker) {
			plain := strings.TrimPrefix(hash, placeholderPasswordMarker)
			b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
			if err != nil {
				return inserted, fmt.Errorf("hash seed user %s: %w", r[0], err)
			}
			hash = string(b)
		}
		var blob any
		if len(r) > 4 && r[4] != "" {
			blob = r[4]
		}
		if _, err := l.h.ExecuteCommand(ctx,
			`INSERT INTO user_account(user_cd, display_name, password_hash, column_cd, blob, import_date, update_date, sourcesystem_cd)
			 VALUES (?,?,?,?,?, datetime('now'), datetime('now'), 'USER')`,
			r[0], r[1], hash, r[3], blob); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (l *Loader) exists(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := l.h.ExecuteQuery(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return len(res.Data) > 0, nil
}
