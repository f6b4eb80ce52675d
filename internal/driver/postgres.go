package driver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the "indexed collection" remote Store: room listings live
// in a real table with indexes on name/locked and a GIN index on the
// metadata JSONB column, queried with pgxpool the same way the counter
// service backs its durable counters.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already-migrated pgxpool.Pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) CreateInstance(ctx context.Context, initial *Listing) (*Listing, error) {
	l := initial.Clone()
	metadata, err := json.Marshal(l.Metadata)
	if err != nil {
		return nil, fmt.Errorf("driver: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO room_listings
			(room_id, name, process_id, locked, private, unlisted, clients, max_clients, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (room_id) DO UPDATE SET
			name = EXCLUDED.name, process_id = EXCLUDED.process_id,
			locked = EXCLUDED.locked, private = EXCLUDED.private, unlisted = EXCLUDED.unlisted,
			clients = EXCLUDED.clients, max_clients = EXCLUDED.max_clients,
			metadata = EXCLUDED.metadata, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, l.RoomID, l.Name, l.ProcessID, l.Locked, l.Private, l.Unlisted, l.Clients, l.MaxClients, metadata); err != nil {
		return nil, fmt.Errorf("driver: create listing: %w", err)
	}
	return l, nil
}

func (s *Postgres) Save(ctx context.Context, listing *Listing) error {
	_, err := s.CreateInstance(ctx, listing)
	return err
}

func (s *Postgres) Remove(ctx context.Context, roomID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM room_listings WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("driver: remove listing: %w", err)
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, cond Conditions, sortBy ...SortOption) ([]*Listing, error) {
	where, args := buildWhere(cond)
	q := fmt.Sprintf(`
		SELECT room_id, name, process_id, locked, private, unlisted, clients, max_clients, metadata
		FROM room_listings %s`, where)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("driver: find listings: %w", err)
	}
	defer rows.Close()

	var out []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("driver: find listings: %w", err)
	}

	Sort(out, sortBy...)
	return out, nil
}

func (s *Postgres) FindOne(ctx context.Context, cond Conditions, sortBy ...SortOption) (*Listing, error) {
	results, err := s.Find(ctx, cond, sortBy...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// rowScanner covers both pgx.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	var metadata []byte
	if err := row.Scan(&l.RoomID, &l.Name, &l.ProcessID, &l.Locked, &l.Private, &l.Unlisted, &l.Clients, &l.MaxClients, &metadata); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("driver: scan listing: %w", err)
	}
	l.Metadata = make(map[string]string)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
			return nil, fmt.Errorf("driver: unmarshal metadata: %w", err)
		}
	}
	return &l, nil
}

func buildWhere(cond Conditions) (string, []any) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if cond.RoomID != "" {
		clauses = append(clauses, "room_id = "+arg(cond.RoomID))
	}
	if cond.Name != "" {
		clauses = append(clauses, "name = "+arg(cond.Name))
	}
	if cond.Locked != nil {
		clauses = append(clauses, "locked = "+arg(*cond.Locked))
	}
	if cond.Private != nil {
		clauses = append(clauses, "private = "+arg(*cond.Private))
	}
	if len(cond.Metadata) > 0 {
		metadata, _ := json.Marshal(cond.Metadata)
		clauses = append(clauses, "metadata @> "+arg(string(metadata))+"::jsonb")
	}

	if len(clauses) == 0 {
		return "", args
	}
	where := " WHERE "
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}

var _ Store = (*Postgres)(nil)
