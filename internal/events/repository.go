package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/common/pagination"
	"github.com/xbcsmith/xzepr/internal/infra/db"
)

type Store interface {
	Create(ctx context.Context, e *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	// ListByReceiver returns up to limit events older than cursor, newest
	// first. A nil cursor starts from the newest event.
	ListByReceiver(ctx context.Context, receiverID string, cursor *pagination.Cursor, limit int) ([]*Event, error)
	Delete(ctx context.Context, id string) error
	AuthzInfo(ctx context.Context, id string) (AuthzInfo, error)
	ReceiverInfo(ctx context.Context, receiverID string) (AuthzInfo, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	errEventNotFound    = apperrors.NotFound("event not found")
	errReceiverNotFound = apperrors.NotFound("event receiver not found")
)

const selectEvent = `
	SELECT id, name, version, release, platform_id, package, description, payload, success,
	       event_receiver_id, owner_id, resource_version, created_at
	FROM events
`

func scanEvent(row pgx.Row) (*Event, error) {
	e := &Event{}
	err := row.Scan(
		&e.ID,
		&e.Name,
		&e.Version,
		&e.Release,
		&e.PlatformID,
		&e.Package,
		&e.Description,
		&e.Payload,
		&e.Success,
		&e.EventReceiverID,
		&e.OwnerID,
		&e.ResourceVersion,
		&e.CreatedAt,
	)
	return e, err
}

func (r *Repository) Create(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO events (id, name, version, release, platform_id, package, description,
		                    payload, success, event_receiver_id, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING resource_version, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		e.ID,
		e.Name,
		e.Version,
		e.Release,
		e.PlatformID,
		e.Package,
		e.Description,
		payloadOrEmpty(e.Payload),
		e.Success,
		e.EventReceiverID,
		e.OwnerID,
	).Scan(&e.ResourceVersion, &e.CreatedAt)

	if db.IsForeignKeyViolation(err) {
		return errReceiverNotFound
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (*Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, selectEvent+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Repository) ListByReceiver(ctx context.Context, receiverID string, cursor *pagination.Cursor, limit int) ([]*Event, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cursor == nil {
		rows, err = r.pool.Query(ctx, selectEvent+`
			WHERE event_receiver_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, receiverID, limit)
	} else {
		rows, err = r.pool.Query(ctx, selectEvent+`
			WHERE event_receiver_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, receiverID, cursor.Time(), cursor.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errEventNotFound
	}
	return nil
}

// AuthzInfo versions an event by its own and its receiver's
// resource_version, so regrouping the receiver yields fresh cache keys.
func (r *Repository) AuthzInfo(ctx context.Context, id string) (AuthzInfo, error) {
	query := `
		SELECT e.owner_id, e.event_receiver_id, COALESCE(gr.group_id, ''),
		       e.resource_version + r.resource_version,
		       ARRAY(SELECT m.user_id FROM event_receiver_group_members m
		             WHERE m.group_id = gr.group_id ORDER BY m.user_id)
		FROM events e
		JOIN event_receivers r ON r.id = e.event_receiver_id
		LEFT JOIN event_receiver_group_receivers gr ON gr.receiver_id = e.event_receiver_id
		WHERE e.id = $1
	`
	var info AuthzInfo
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&info.OwnerID, &info.ReceiverID, &info.GroupID, &info.ResourceVersion, &info.Members,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuthzInfo{}, errEventNotFound
	}
	return info, err
}

func (r *Repository) ReceiverInfo(ctx context.Context, receiverID string) (AuthzInfo, error) {
	query := `
		SELECT r.owner_id, r.id, COALESCE(gr.group_id, ''), r.resource_version,
		       ARRAY(SELECT m.user_id FROM event_receiver_group_members m
		             WHERE m.group_id = gr.group_id ORDER BY m.user_id)
		FROM event_receivers r
		LEFT JOIN event_receiver_group_receivers gr ON gr.receiver_id = r.id
		WHERE r.id = $1
	`
	var info AuthzInfo
	err := r.pool.QueryRow(ctx, query, receiverID).Scan(
		&info.OwnerID, &info.ReceiverID, &info.GroupID, &info.ResourceVersion, &info.Members,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuthzInfo{}, errReceiverNotFound
	}
	return info, err
}

func payloadOrEmpty(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage(`{}`)
	}
	return payload
}
