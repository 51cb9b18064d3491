package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// ProviderRepository is the typed accessor over PROVIDER, the
// clinician/provider dimension referenced by Observation.ProviderID. Keyed
// by a text provider_id, so like ConceptRepository it implements its own
// lookups rather than embedding BaseRepository.
type ProviderRepository struct {
	h   *storage.Handle
	log *zap.Logger
}

// NewProviderRepository builds a ProviderRepository over h.
func NewProviderRepository(h *storage.Handle, log *zap.Logger) *ProviderRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProviderRepository{h: h, log: log}
}

func scanProvider(row storage.Row) model.Provider {
	return model.Provider{
		ProviderID:  strOf(row["provider_id"]),
		NameChar:    strOf(row["name_char"]),
		SpecialtyCD: strOf(row["specialty_cd"]),
		Blob:        blobOf(row["blob"]),
	}
}

// FindByID returns the provider with the given provider_id.
func (r *ProviderRepository) FindByID(ctx context.Context, providerID string) (model.Provider, error) {
	res, err := r.h.ExecuteQuery(ctx, `SELECT * FROM provider WHERE provider_id = ?`, providerID)
	if err != nil {
		return model.Provider{}, err
	}
	if len(res.Data) == 0 {
		return model.Provider{}, model.NotFound("provider", "provider_id="+providerID+" not found")
	}
	return scanProvider(res.Data[0]), nil
}

// FindAll returns every registered provider.
func (r *ProviderRepository) FindAll(ctx context.Context) ([]model.Provider, error) {
	res, err := r.h.ExecuteQuery(ctx, `SELECT * FROM provider ORDER BY name_char`)
	if err != nil {
		return nil, err
	}
	out := make([]model.Provider, 0, len(res.Data))
	for _, row := range res.Data {
		out = append(out, scanProvider(row))
	}
	return out, nil
}

// Create inserts a provider row.
func (r *ProviderRepository) Create(ctx context.Context, p model.Provider) error {
	_, err := r.h.ExecuteCommand(ctx,
		`INSERT INTO provider(provider_id, name_char, specialty_cd, blob) VALUES (?,?,?,?)`,
		p.ProviderID, p.NameChar, nullStr(p.SpecialtyCD), blobArg(p.Blob))
	return err
}

// FindBySpecialty returns every provider with the given specialty code.
func (r *ProviderRepository) FindBySpecialty(ctx context.Context, specialtyCD string) ([]model.Provider, error) {
	res, err := r.h.ExecuteQuery(ctx, `SELECT * FROM provider WHERE specialty_cd = ? ORDER BY name_char`, specialtyCD)
	if err != nil {
		return nil, err
	}
	out := make([]model.Provider, 0, len(res.Data))
	for _, row := range res.Data {
		out = append(out, scanProvider(row))
	}
	return out, nil
}
