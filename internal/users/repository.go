package users

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/infra/db"
)

type Store interface {
	Permissions(ctx context.Context, userID string) (*Permissions, error)
	AssignRole(ctx context.Context, userID, role, grantedBy string) error
	RemoveRole(ctx context.Context, userID, role string) error
	// Forget drops any cached copy of the user's permissions.
	Forget(ctx context.Context, userID string)
}

// Cache is the key-value slice of infra/cache the repository reads through.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
}

type Repository struct {
	pool  *pgxpool.Pool
	cache Cache
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func NewRepositoryWithCache(pool *pgxpool.Pool, c Cache) *Repository {
	return &Repository{pool: pool, cache: c}
}

const permissionsCacheTTL = 5 * time.Minute

func permissionsCacheKey(userID string) string {
	return fmt.Sprintf("user:permissions:%s", userID)
}

func (r *Repository) Permissions(ctx context.Context, userID string) (*Permissions, error) {
	if r.cache != nil {
		var cached Permissions
		if err := r.cache.Get(ctx, permissionsCacheKey(userID), &cached); err == nil {
			return &cached, nil
		}
	}

	perms := &Permissions{UserID: userID}

	rows, err := r.pool.Query(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, err
	}
	if perms.Roles, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT group_id FROM event_receiver_group_members
		WHERE user_id = $1
		ORDER BY group_id
	`, userID)
	if err != nil {
		return nil, err
	}
	if perms.Groups, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, permissionsCacheKey(userID), perms, permissionsCacheTTL)
	}
	return perms, nil
}

func (r *Repository) AssignRole(ctx context.Context, userID, role, grantedBy string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role, granted_by) VALUES ($1, $2, $3)`,
		userID, role, grantedBy,
	)
	if db.IsUniqueViolation(err) {
		return errors.Conflict("role already assigned")
	}
	if err != nil {
		return err
	}
	r.Forget(ctx, userID)
	return nil
}

func (r *Repository) RemoveRole(ctx context.Context, userID, role string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, userID, role)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("role not assigned")
	}
	r.Forget(ctx, userID)
	return nil
}

func (r *Repository) Forget(ctx context.Context, userID string) {
	if r.cache != nil {
		_ = r.cache.Delete(ctx, permissionsCacheKey(userID))
	}
}
