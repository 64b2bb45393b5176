package groups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/infra/db"
)

type Store interface {
	Create(ctx context.Context, g *EventReceiverGroup) error
	Get(ctx context.Context, id string) (*EventReceiverGroup, error)
	List(ctx context.Context, filter ListFilter) ([]*EventReceiverGroup, error)
	Update(ctx context.Context, g *EventReceiverGroup) error
	// Delete removes the group and returns the receivers that were in it.
	Delete(ctx context.Context, id string) ([]string, error)
	AddReceiver(ctx context.Context, groupID, receiverID string) (int64, error)
	RemoveReceiver(ctx context.Context, groupID, receiverID string) (int64, error)
	AddMember(ctx context.Context, groupID, userID, addedBy string) (int64, error)
	RemoveMember(ctx context.Context, groupID, userID string) (int64, error)
	Members(ctx context.Context, groupID string) ([]Member, error)
	AuthzInfo(ctx context.Context, id string) (AuthzInfo, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var errGroupNotFound = apperrors.NotFound("event receiver group not found")

const selectGroup = `
	SELECT g.id, g.name, g.type, g.version, g.description, g.enabled, g.owner_id,
	       ARRAY(SELECT gr.receiver_id FROM event_receiver_group_receivers gr
	             WHERE gr.group_id = g.id ORDER BY gr.receiver_id),
	       g.resource_version, g.created_at, g.updated_at
	FROM event_receiver_groups g
`

func scanGroup(row pgx.Row) (*EventReceiverGroup, error) {
	g := &EventReceiverGroup{}
	err := row.Scan(
		&g.ID,
		&g.Name,
		&g.Type,
		&g.Version,
		&g.Description,
		&g.Enabled,
		&g.OwnerID,
		&g.EventReceiverIDs,
		&g.ResourceVersion,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	return g, err
}

func (r *Repository) Create(ctx context.Context, g *EventReceiverGroup) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO event_receiver_groups (id, name, type, version, description, enabled, owner_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING resource_version, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			g.ID,
			g.Name,
			g.Type,
			g.Version,
			g.Description,
			g.Enabled,
			g.OwnerID,
		).Scan(&g.ResourceVersion, &g.CreatedAt, &g.UpdatedAt)
		if err != nil {
			return err
		}

		for _, receiverID := range g.EventReceiverIDs {
			if err := attachReceiver(ctx, tx, g.ID, receiverID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, id string) (*EventReceiverGroup, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx, selectGroup+" WHERE g.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*EventReceiverGroup, error) {
	var (
		where []string
		args  []any
	)
	if filter.Name != "" {
		args = append(args, filter.Name)
		where = append(where, fmt.Sprintf("g.name = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("g.type = $%d", len(args)))
	}

	query := selectGroup
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY g.created_at DESC, g.id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EventReceiverGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *Repository) Update(ctx context.Context, g *EventReceiverGroup) error {
	query := `
		UPDATE event_receiver_groups
		SET name = $2, type = $3, version = $4, description = $5, enabled = $6,
		    resource_version = resource_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING resource_version, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		g.ID,
		g.Name,
		g.Type,
		g.Version,
		g.Description,
		g.Enabled,
	).Scan(&g.ResourceVersion, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errGroupNotFound
	}
	return err
}

func (r *Repository) Delete(ctx context.Context, id string) ([]string, error) {
	var receiverIDs []string
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE event_receivers SET resource_version = resource_version + 1
			WHERE id IN (SELECT receiver_id FROM event_receiver_group_receivers WHERE group_id = $1)
			RETURNING id
		`, id)
		if err != nil {
			return err
		}
		receiverIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		result, err := tx.Exec(ctx, `DELETE FROM event_receiver_groups WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return errGroupNotFound
		}
		return nil
	})
	return receiverIDs, err
}

func (r *Repository) AddReceiver(ctx context.Context, groupID, receiverID string) (int64, error) {
	var version int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if version, err = bumpGroup(ctx, tx, groupID); err != nil {
			return err
		}
		return attachReceiver(ctx, tx, groupID, receiverID)
	})
	return version, err
}

func (r *Repository) RemoveReceiver(ctx context.Context, groupID, receiverID string) (int64, error) {
	var version int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if version, err = bumpGroup(ctx, tx, groupID); err != nil {
			return err
		}

		result, err := tx.Exec(ctx,
			`DELETE FROM event_receiver_group_receivers WHERE group_id = $1 AND receiver_id = $2`,
			groupID, receiverID,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return apperrors.NotFound("event receiver is not in this group")
		}
		_, err = tx.Exec(ctx,
			`UPDATE event_receivers SET resource_version = resource_version + 1 WHERE id = $1`,
			receiverID,
		)
		return err
	})
	return version, err
}

func (r *Repository) AddMember(ctx context.Context, groupID, userID, addedBy string) (int64, error) {
	var version int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if version, err = bumpGroup(ctx, tx, groupID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO event_receiver_group_members (group_id, user_id, added_by) VALUES ($1, $2, $3)`,
			groupID, userID, addedBy,
		)
		if db.IsUniqueViolation(err) {
			return apperrors.Conflict("user is already a member of this group")
		}
		return err
	})
	return version, err
}

func (r *Repository) RemoveMember(ctx context.Context, groupID, userID string) (int64, error) {
	var version int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if version, err = bumpGroup(ctx, tx, groupID); err != nil {
			return err
		}

		result, err := tx.Exec(ctx,
			`DELETE FROM event_receiver_group_members WHERE group_id = $1 AND user_id = $2`,
			groupID, userID,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return apperrors.NotFound("user is not a member of this group")
		}
		return nil
	})
	return version, err
}

func (r *Repository) Members(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, added_by, added_at
		FROM event_receiver_group_members
		WHERE group_id = $1
		ORDER BY added_at, user_id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.AddedBy, &m.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) AuthzInfo(ctx context.Context, id string) (AuthzInfo, error) {
	query := `
		SELECT g.owner_id, g.resource_version,
		       ARRAY(SELECT m.user_id FROM event_receiver_group_members m
		             WHERE m.group_id = g.id ORDER BY m.user_id)
		FROM event_receiver_groups g
		WHERE g.id = $1
	`
	var info AuthzInfo
	err := r.pool.QueryRow(ctx, query, id).Scan(&info.OwnerID, &info.ResourceVersion, &info.Members)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuthzInfo{}, errGroupNotFound
	}
	return info, err
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func(tx pgx.Tx) {
		_ = tx.Rollback(ctx)
	}(tx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func bumpGroup(ctx context.Context, tx pgx.Tx, groupID string) (int64, error) {
	var version int64
	err := tx.QueryRow(ctx, `
		UPDATE event_receiver_groups
		SET resource_version = resource_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING resource_version
	`, groupID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errGroupNotFound
	}
	return version, err
}

// attachReceiver links a receiver to a group and bumps the receiver's
// resource_version, since its membership context changed.
func attachReceiver(ctx context.Context, tx pgx.Tx, groupID, receiverID string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO event_receiver_group_receivers (group_id, receiver_id) VALUES ($1, $2)`,
		groupID, receiverID,
	)
	switch {
	case db.IsUniqueViolation(err):
		return apperrors.Conflict("event receiver " + receiverID + " already belongs to a group")
	case db.IsForeignKeyViolation(err):
		return apperrors.NotFound("event receiver " + receiverID + " not found")
	case err != nil:
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE event_receivers SET resource_version = resource_version + 1 WHERE id = $1`,
		receiverID,
	)
	return err
}
