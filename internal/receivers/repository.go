package receivers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/infra/db"
)

type Store interface {
	Create(ctx context.Context, rec *EventReceiver) error
	Get(ctx context.Context, id string) (*EventReceiver, error)
	List(ctx context.Context, filter ListFilter) ([]*EventReceiver, error)
	Update(ctx context.Context, rec *EventReceiver) error
	Delete(ctx context.Context, id string) error
	AuthzInfo(ctx context.Context, id string) (AuthzInfo, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectReceiver = `
	SELECT r.id, r.name, r.type, r.version, r.description, r.schema, r.fingerprint,
	       r.owner_id, COALESCE(gr.group_id, ''), r.resource_version, r.created_at, r.updated_at
	FROM event_receivers r
	LEFT JOIN event_receiver_group_receivers gr ON gr.receiver_id = r.id
`

func scanReceiver(row pgx.Row) (*EventReceiver, error) {
	rec := &EventReceiver{}
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Type,
		&rec.Version,
		&rec.Description,
		&rec.Schema,
		&rec.Fingerprint,
		&rec.OwnerID,
		&rec.GroupID,
		&rec.ResourceVersion,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func (r *Repository) Create(ctx context.Context, rec *EventReceiver) error {
	query := `
		INSERT INTO event_receivers (id, name, type, version, description, schema, fingerprint, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING resource_version, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.Name,
		rec.Type,
		rec.Version,
		rec.Description,
		schemaOrEmpty(rec.Schema),
		rec.Fingerprint,
		rec.OwnerID,
	).Scan(&rec.ResourceVersion, &rec.CreatedAt, &rec.UpdatedAt)

	if db.IsUniqueViolation(err) {
		return apperrors.Conflict("event receiver with this name, type and version already exists")
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (*EventReceiver, error) {
	rec, err := scanReceiver(r.pool.QueryRow(ctx, selectReceiver+" WHERE r.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("event receiver not found")
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*EventReceiver, error) {
	var (
		where []string
		args  []any
	)
	if filter.Name != "" {
		args = append(args, filter.Name)
		where = append(where, fmt.Sprintf("r.name = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("r.type = $%d", len(args)))
	}

	query := selectReceiver
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY r.created_at DESC, r.id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EventReceiver
	for rows.Next() {
		rec, err := scanReceiver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Update writes rec and bumps its resource_version, which is written back
// into rec.
func (r *Repository) Update(ctx context.Context, rec *EventReceiver) error {
	query := `
		UPDATE event_receivers
		SET name = $2, type = $3, version = $4, description = $5, schema = $6, fingerprint = $7,
		    resource_version = resource_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING resource_version, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.Name,
		rec.Type,
		rec.Version,
		rec.Description,
		schemaOrEmpty(rec.Schema),
		rec.Fingerprint,
	).Scan(&rec.ResourceVersion, &rec.UpdatedAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NotFound("event receiver not found")
	case db.IsUniqueViolation(err):
		return apperrors.Conflict("event receiver with this name, type and version already exists")
	}
	return err
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM event_receivers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("event receiver not found")
	}
	return nil
}

func (r *Repository) AuthzInfo(ctx context.Context, id string) (AuthzInfo, error) {
	query := `
		SELECT r.owner_id, COALESCE(gr.group_id, ''), r.resource_version,
		       ARRAY(SELECT m.user_id FROM event_receiver_group_members m
		             WHERE m.group_id = gr.group_id ORDER BY m.user_id)
		FROM event_receivers r
		LEFT JOIN event_receiver_group_receivers gr ON gr.receiver_id = r.id
		WHERE r.id = $1
	`

	var info AuthzInfo
	err := r.pool.QueryRow(ctx, query, id).Scan(&info.OwnerID, &info.GroupID, &info.ResourceVersion, &info.Members)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuthzInfo{}, apperrors.NotFound("event receiver not found")
	}
	return info, err
}

func schemaOrEmpty(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return json.RawMessage(`{}`)
	}
	return schema
}
