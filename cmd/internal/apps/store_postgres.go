package apps

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore resolves apps from the <schema>.apps table.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
type PostgresStore struct {
	pool     *pgxpool.Pool
	schema   string
	defaults Defaults
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "pulse").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("apps: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("apps: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithDefaultLimits sets the limits applied to columns left at zero.
func WithDefaultLimits(d Defaults) PostgresOption {
	return func(s *PostgresStore) error {
		s.defaults = d
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:     pool,
		schema:   "pulse",
		defaults: DefaultLimits(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("apps: nil pool")
	}
	return st, nil
}

const appColumns = `id, key, secret, enabled,
	enable_client_messages, max_connections, max_client_events_per_second, allowed_origins,
	max_channel_name_length, max_event_name_length, max_event_payload_kb,
	max_event_channels_at_once, max_event_batch_size,
	max_presence_member_size_kb, max_presence_members_per_channel`

// FindByKey returns the app with the given public key.
func (s *PostgresStore) FindByKey(ctx context.Context, key string) (App, error) {
	return s.findOne(ctx, "key", key)
}

// FindByID returns the app with the given id.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (App, error) {
	return s.findOne(ctx, "id", id)
}

func (s *PostgresStore) findOne(ctx context.Context, column, value string) (App, error) {
	if s == nil || s.pool == nil {
		return App{}, errors.New("apps: nil postgres store")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return App{}, ErrAppNotFound
	}
	if err := ctx.Err(); err != nil {
		return App{}, err
	}

	table := pgIdent(s.schema, "apps")
	col := pgx.Identifier{column}.Sanitize()

	var (
		a       App
		origins []string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+appColumns+` FROM `+table+` WHERE `+col+` = $1`,
		value,
	).Scan(
		&a.ID, &a.Key, &a.Secret, &a.Enabled,
		&a.EnableClientMessages, &a.MaxConnections, &a.MaxClientEventsPerSecond, &origins,
		&a.ChannelLimits.MaxNameLength, &a.EventLimits.MaxNameLength, &a.EventLimits.MaxPayloadInKB,
		&a.EventLimits.MaxChannelsAtOnce, &a.EventLimits.MaxBatchSize,
		&a.PresenceLimits.MaxMemberSizeInKB, &a.PresenceLimits.MaxMembersPerChannel,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return App{}, ErrAppNotFound
	}
	if err != nil {
		return App{}, fmt.Errorf("apps: select by %s: %w", column, err)
	}
	a.AllowedOrigins = origins

	return a.WithDefaults(s.defaults), nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
