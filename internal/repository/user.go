package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// UserRepository is the typed accessor over USER_ACCOUNT. Passwords are
// never stored, logged, or returned in clear: CreateUser and ResetPassword
// take a plaintext password and store only its bcrypt hash.
type UserRepository struct {
	*BaseRepository[model.User]
}

func userMapper() Mapper[model.User] {
	return Mapper[model.User]{
		Table:    "user_account",
		PKColumn: "user_id",
		Columns:  []string{"user_cd", "display_name", "password_hash", "column_cd", "blob", "import_date", "update_date", "upload_id", "sourcesystem_cd"},
		Values: func(u model.User) []any {
			return []any{
				u.UserCD, u.DisplayName, u.PasswordHash, nullStr(u.ColumnCD), blobArg(u.Blob),
				formatTime(u.ImportDate), formatTime(u.UpdateDate), u.UploadID, sourceSystemOrDefault(u.SourceSystemCD),
			}
		},
		Scan: func(row storage.Row) (model.User, error) {
			imp, err := timeOf(row["import_date"])
			if err != nil {
				return model.User{}, err
			}
			upd, err := timeOf(row["update_date"])
			if err != nil {
				return model.User{}, err
			}
			return model.User{
				UserID:       int64Of(row["user_id"]),
				UserCD:       strOf(row["user_cd"]),
				DisplayName:  strOf(row["display_name"]),
				PasswordHash: strOf(row["password_hash"]),
				ColumnCD:     strOf(row["column_cd"]),
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

// NewUserRepository builds a UserRepository over h.
func NewUserRepository(h *storage.Handle, log *zap.Logger) *UserRepository {
	return &UserRepository{BaseRepository: NewBaseRepository(h, log, userMapper())}
}

// FindByUserCode returns the user with the given USER_CD.
func (r *UserRepository) FindByUserCode(ctx context.Context, userCD string) (model.User, error) {
	res, err := r.Handle().ExecuteQuery(ctx, `SELECT * FROM user_account WHERE user_cd = ?`, userCD)
	if err != nil {
		return model.User{}, err
	}
	if len(res.Data) == 0 {
		return model.User{}, model.NotFound("user_account", "user_cd="+userCD+" not found")
	}
	return userMapper().Scan(res.Data[0])
}

// CreateUser hashes plainPassword with bcrypt and inserts the account.
func (r *UserRepository) CreateUser(ctx context.Context, u model.User, plainPassword string) (int64, error) {
	if _, err := r.FindByUserCode(ctx, u.UserCD); err == nil {
		return 0, model.Duplicate("user_account", "user_cd="+u.UserCD+" already exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return 0, model.NewError(model.KindValidationFailure, "user_account", "failed to hash password", err)
	}
	u.PasswordHash = string(hash)
	if u.SourceSystemCD == "" {
		u.SourceSystemCD = model.DefaultSourceSystem
	}
	return r.Create(ctx, u)
}

// UpdateUser merges patch over the stored account. It never accepts a
// PasswordHash field directly through patch's normal path if the caller
// wants to change it in clear; use ResetPassword instead.
func (r *UserRepository) UpdateUser(ctx context.Context, userID int64, patch model.User) (model.User, error) {
	return r.Update(ctx, userID, patch)
}

// ResetPassword hashes newPlainPassword and writes it as the account's
// password_hash.
func (r *UserRepository) ResetPassword(ctx context.Context, userCD, newPlainPassword string) error {
	u, err := r.FindByUserCode(ctx, userCD)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPlainPassword), bcrypt.DefaultCost)
	if err != nil {
		return model.NewError(model.KindValidationFailure, "user_account", "failed to hash password", err)
	}
	_, err = r.Handle().ExecuteCommand(ctx, `UPDATE user_account SET password_hash = ?, update_date = ? WHERE user_id = ?`,
		string(hash), formatTime(u.UpdateDate), u.UserID)
	return err
}

// VerifyPassword reports whether plainPassword matches the stored hash for
// userCD.
func (r *UserRepository) VerifyPassword(ctx context.Context, userCD, plainPassword string) (bool, error) {
	u, err := r.FindByUserCode(ctx, userCD)
	if err != nil {
		return false, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plainPassword)); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return false, fmt.Errorf("verify password: %w", err)
	}
	return true, nil
}
