package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQL implements Directory on Postgres through database/sql (pgx stdlib driver).
type SQL struct {
	DB *sql.DB
}

// NewSQL wraps an open database handle.
func NewSQL(db *sql.DB) *SQL { return &SQL{DB: db} }

const userColumns = `id, display_name, tier, quota_remaining, warning_count, banned, ban_expires_at, premium_expires_at, balance, chips`

func scanUser(row interface{ Scan(dest ...any) error }) (*User, error) {
	var u User
	var tier string
	var banExp, premExp sql.NullTime
	if err := row.Scan(&u.ID, &u.DisplayName, &tier, &u.Quota, &u.Warnings, &u.Banned, &banExp, &premExp, &u.Balance, &u.Chips); err != nil {
		return nil, err
	}
	u.Tier = Tier(tier)
	if banExp.Valid {
		t := banExp.Time.UTC()
		u.BanExpiresAt = &t
	}
	if premExp.Valid {
		t := premExp.Time.UTC()
		u.PremiumExpiresAt = &t
	}
	return &u, nil
}

func (s *SQL) GetOrCreateUser(ctx context.Context, id, displayName string, defaultQuota int) (*User, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, tier, quota_remaining, created_at)
		VALUES ($1, $2, 'basic', $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END,
			updated_at = NOW()
		RETURNING `+userColumns, id, displayName, defaultQuota)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get or create user %s: %w", id, err)
	}
	return u, nil
}

func (s *SQL) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// CorrectEntitlement applies ban-lapse and premium-demotion in one statement.
// The lapse predicates are re-checked against the stored row inside each CASE,
// which makes the update a no-op when another pass already applied it.
func (s *SQL) CorrectEntitlement(ctx context.Context, id string, clearBan, demotePremium bool, defaultQuota int, now time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET
			banned = CASE WHEN $2::bool AND banned AND ban_expires_at IS NOT NULL AND ban_expires_at <= $5 THEN FALSE ELSE banned END,
			ban_expires_at = CASE WHEN $2::bool AND banned AND ban_expires_at IS NOT NULL AND ban_expires_at <= $5 THEN NULL ELSE ban_expires_at END,
			quota_remaining = CASE WHEN $3::bool AND tier = 'premium' AND premium_expires_at IS NOT NULL AND premium_expires_at <= $5 THEN $4 ELSE quota_remaining END,
			premium_expires_at = CASE WHEN $3::bool AND tier = 'premium' AND premium_expires_at IS NOT NULL AND premium_expires_at <= $5 THEN NULL ELSE premium_expires_at END,
			tier = CASE WHEN $3::bool AND tier = 'premium' AND premium_expires_at IS NOT NULL AND premium_expires_at <= $5 THEN 'basic' ELSE tier END,
			updated_at = NOW()
		WHERE id = $1`, id, clearBan, demotePremium, defaultQuota, now.UTC())
	if err != nil {
		return fmt.Errorf("correct entitlement for %s: %w", id, err)
	}
	return nil
}

func (s *SQL) ConsumeQuota(ctx context.Context, id string, cost int) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE users SET quota_remaining = quota_remaining - $2, updated_at = NOW()
		WHERE id = $1 AND quota_remaining >= $2`, id, cost)
	if err != nil {
		return false, fmt.Errorf("consume quota for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQL) AdjustQuota(ctx context.Context, id string, delta int) error {
	// Unlimited sentinel rows are skipped; GREATEST floors metered rows at zero.
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET quota_remaining = GREATEST(quota_remaining + $2, 0), updated_at = NOW()
		WHERE id = $1 AND quota_remaining >= 0`, id, delta)
	if err != nil {
		return fmt.Errorf("adjust quota for %s: %w", id, err)
	}
	return nil
}

func (s *SQL) IncrementWarning(ctx context.Context, id string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `
		UPDATE users SET warning_count = warning_count + 1, updated_at = NOW()
		WHERE id = $1 RETURNING warning_count`, id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment warning for %s: %w", id, err)
	}
	return count, nil
}

func (s *SQL) DecrementWarning(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET warning_count = GREATEST(warning_count - 1, 0), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("decrement warning for %s: %w", id, err)
	}
	return err
}

func (s *SQL) ResetWarnings(ctx context.Context, id string, floor int) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET warning_count = 0, updated_at = NOW()
		WHERE id = $1 AND warning_count >= $2`, id, floor)
	if err != nil {
		return fmt.Errorf("reset warnings for %s: %w", id, err)
	}
	return nil
}

func (s *SQL) SetBan(ctx context.Context, id string, until *time.Time) error {
	var exp sql.NullTime
	if until != nil {
		exp = sql.NullTime{Time: until.UTC(), Valid: true}
	}
	// Owners are never banned.
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET banned = TRUE, ban_expires_at = $2, updated_at = NOW()
		WHERE id = $1 AND tier <> 'owner'`, id, exp)
	if err != nil {
		return fmt.Errorf("set ban for %s: %w", id, err)
	}
	return nil
}

func (s *SQL) ClearBan(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE users SET banned = FALSE, ban_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND banned`, id)
	if err != nil {
		return false, fmt.Errorf("clear ban for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQL) SetPremium(ctx context.Context, id string, until time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET tier = 'premium', premium_expires_at = $2, updated_at = NOW()
		WHERE id = $1 AND tier <> 'owner'`, id, until.UTC())
	if err != nil {
		return fmt.Errorf("set premium for %s: %w", id, err)
	}
	return nil
}

func (s *SQL) ClearPremium(ctx context.Context, id string, defaultQuota int) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE users SET tier = 'basic', premium_expires_at = NULL, quota_remaining = $2, updated_at = NOW()
		WHERE id = $1 AND tier = 'premium'`, id, defaultQuota)
	if err != nil {
		return false, fmt.Errorf("clear premium for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQL) AdjustBalance(ctx context.Context, id string, delta int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET balance = GREATEST(balance + $2, 0), updated_at = NOW()
		WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("adjust balance for %s: %w", id, err)
	}
	return nil
}

func (s *SQL) AdjustChips(ctx context.Context, id string, delta int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET chips = GREATEST(chips + $2, 0), updated_at = NOW()
		WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("adjust chips for %s: %w", id, err)
	}
	return nil
}

func (s *SQL) listUsers(ctx context.Context, where string, args ...any) ([]User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY display_name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *SQL) ListBanned(ctx context.Context) ([]User, error) {
	return s.listUsers(ctx, `banned`)
}

func (s *SQL) ListPremium(ctx context.Context) ([]User, error) {
	return s.listUsers(ctx, `tier = 'premium'`)
}

func (s *SQL) ListWarned(ctx context.Context) ([]User, error) {
	return s.listUsers(ctx, `warning_count > 0`)
}

func (s *SQL) GetOrCreateRoom(ctx context.Context, id, displayName string, defaultThreshold int) (*Room, error) {
	r := &Room{ID: id}
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO rooms (id, display_name, warn_threshold, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE rooms.display_name END,
			updated_at = NOW()
		RETURNING display_name, moderation_enabled, warn_threshold, view_once_auto_reveal`,
		id, displayName, defaultThreshold)
	if err := row.Scan(&r.DisplayName, &r.ModerationEnabled, &r.WarnThreshold, &r.ViewOnceAutoReveal); err != nil {
		return nil, fmt.Errorf("get or create room %s: %w", id, err)
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT word FROM room_blockwords WHERE room_id=$1 ORDER BY word`, id)
	if err != nil {
		return nil, fmt.Errorf("load blockwords for %s: %w", id, err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		r.Blockwords = append(r.Blockwords, w)
	}
	return r, rows.Err()
}

func (s *SQL) SetModeration(ctx context.Context, roomID string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE rooms SET moderation_enabled=$2, updated_at=NOW() WHERE id=$1`, roomID, enabled)
	return checkRoomUpdate(res, err, roomID)
}

func (s *SQL) SetWarnThreshold(ctx context.Context, roomID string, threshold int) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE rooms SET warn_threshold=$2, updated_at=NOW() WHERE id=$1`, roomID, threshold)
	return checkRoomUpdate(res, err, roomID)
}

func checkRoomUpdate(res sql.Result, err error, roomID string) error {
	if err != nil {
		return fmt.Errorf("update room %s: %w", roomID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) AddBlockword(ctx context.Context, roomID, word string) (bool, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return false, nil
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO room_blockwords (room_id, word, created_at) VALUES ($1, $2, NOW())
		ON CONFLICT (room_id, word) DO NOTHING`, roomID, word)
	if err != nil {
		return false, fmt.Errorf("add blockword to %s: %w", roomID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQL) RemoveBlockword(ctx context.Context, roomID, word string) (bool, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	res, err := s.DB.ExecContext(ctx, `DELETE FROM room_blockwords WHERE room_id=$1 AND word=$2`, roomID, word)
	if err != nil {
		return false, fmt.Errorf("remove blockword from %s: %w", roomID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQL) RecordUsage(ctx context.Context, command, actorID, roomID string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_log (id, command, actor_id, room_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())`, uuid.New().String(), command, actorID, roomID)
	if err != nil {
		return fmt.Errorf("record usage of %s: %w", command, err)
	}
	return nil
}

func (s *SQL) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	row := s.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE banned),
			(SELECT COUNT(*) FROM rooms),
			(SELECT COUNT(*) FROM usage_log)`)
	if err := row.Scan(&st.Users, &st.Banned, &st.Rooms, &st.UsageTotal); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

var _ Directory = (*SQL)(nil)
