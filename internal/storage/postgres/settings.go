package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-rewards/internal/domain/loyalty"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/pricing"
)

// Settings keys.
const (
	KeyMembershipTiers = "membership_tiers"
	KeyLoyalty         = "loyalty"
)

const (
	getSettingSQL = `SELECT value FROM settings WHERE key = $1`

	putSettingSQL = `INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

var (
	_ pricing.SettingsStore  = (*SettingsRepository)(nil)
	_ membership.TableSource = (*SettingsRepository)(nil)
)

// SettingsRepository stores operator settings as JSONB blobs keyed by name.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// get returns the raw value for key, or nil when the key is unset.
func (r *SettingsRepository) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.pool.QueryRow(ctx, getSettingSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting setting %q: %w", key, err)
	}
	return value, nil
}

func (r *SettingsRepository) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling setting %q: %w", key, err)
	}
	if _, err := r.pool.Exec(ctx, putSettingSQL, key, data); err != nil {
		return fmt.Errorf("saving setting %q: %w", key, err)
	}
	return nil
}

// MembershipTable returns the stored tier table, or the default table when
// none has been saved.
func (r *SettingsRepository) MembershipTable(ctx context.Context) (membership.Table, error) {
	data, err := r.get(ctx, KeyMembershipTiers)
	if err != nil {
		return membership.Table{}, err
	}
	if data == nil {
		return membership.DefaultTable(), nil
	}
	return membership.ParseTable(data)
}

// SaveMembershipTable replaces the stored tier table.
func (r *SettingsRepository) SaveMembershipTable(ctx context.Context, t membership.Table) error {
	return r.put(ctx, KeyMembershipTiers, t)
}

// Loyalty returns the stored loyalty rates merged over the defaults.
func (r *SettingsRepository) Loyalty(ctx context.Context) (loyalty.Settings, error) {
	data, err := r.get(ctx, KeyLoyalty)
	if err != nil {
		return loyalty.Settings{}, err
	}
	if data == nil {
		return loyalty.DefaultSettings(), nil
	}
	return loyalty.ParseSettings(data)
}

// SaveLoyalty replaces the stored loyalty rates.
func (r *SettingsRepository) SaveLoyalty(ctx context.Context, s loyalty.Settings) error {
	return r.put(ctx, KeyLoyalty, s)
}
