package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// NoteRepository is the typed accessor over NOTE_FACT.
type NoteRepository struct {
	*BaseRepository[model.Note]
}

func noteMapper() Mapper[model.Note] {
	return Mapper[model.Note]{
		Table:    "note_fact",
		PKColumn: "note_id",
		Columns: []string{
			"patient_num", "encounter_num", "category_cd", "body", "blob",
			"import_date", "update_date", "upload_id", "sourcesystem_cd",
		},
		Values: func(n model.Note) []any {
			return []any{
				n.PatientNum, n.EncounterNum, nullStr(n.CategoryCD), n.Body, blobArg(n.Blob),
				formatTime(n.ImportDate), formatTime(n.UpdateDate), n.UploadID, sourceSystemOrDefault(n.SourceSystemCD),
			}
		},
		Scan: func(row storage.Row) (model.Note, error) {
			imp, err := timeOf(row["import_date"])
			if err != nil {
				return model.Note{}, err
			}
			upd, err := timeOf(row["update_date"])
			if err != nil {
				return model.Note{}, err
			}
			return model.Note{
				NoteID:       int64Of(row["note_id"]),
				PatientNum:   int64Of(row["patient_num"]),
				EncounterNum: int64PtrOf(row["encounter_num"]),
				CategoryCD:   strOf(row["category_cd"]),
				Body:         strOf(row["body"]),
				Blob:         blobOf(row["blob"]),
				Audit: model.Audit{
					ImportDate:     imp,
					UpdateDate:     upd,
					UploadID:       int64Of(row["upload_id"]),
					SourceSystemCD: strOf(row["sourcesystem_cd"]),
				},
			}, nil
		},
	}
}

// NewNoteRepository builds a NoteRepository over h.
func NewNoteRepository(h *storage.Handle, log *zap.Logger) *NoteRepository {
	return &NoteRepository{BaseRepository: NewBaseRepository(h, log, noteMapper())}
}

// SearchNotes performs a case-insensitive substring search across a note's
// body and category.
func (r *NoteRepository) SearchNotes(ctx context.Context, text string) ([]model.Note, error) {
	return r.Search(ctx, text, []string{"body", "category_cd"})
}

// ExportFormat selects NoteRepository.Export's output shape.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
	ExportText ExportFormat = "text"
)

// Export renders notes in the requested format. JSON is the canonical
// round-trippable form; CSV and text are display/handoff formats only.
func (r *NoteRepository) Export(notes []model.Note, format ExportFormat) (string, error) {
	switch format {
	case ExportJSON:
		b, err := json.Marshal(notes)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case ExportCSV:
		var sb strings.Builder
		sb.WriteString("note_id,patient_num,encounter_num,category_cd,body\n")
		for _, n := range notes {
			enc := ""
			if n.EncounterNum != nil {
				enc = fmt.Sprint(*n.EncounterNum)
			}
			fmt.Fprintf(&sb, "%d,%d,%s,%s,%q\n", n.NoteID, n.PatientNum, enc, n.CategoryCD, n.Body)
		}
		return sb.String(), nil
	case ExportText:
		var sb strings.Builder
		for _, n := range notes {
			fmt.Fprintf(&sb, "[%s] patient %d: %s\n\n", n.CategoryCD, n.PatientNum, n.Body)
		}
		return sb.String(), nil
	default:
		return "", model.ValidationFailure("note_fact", "unknown export format "+string(format))
	}
}
