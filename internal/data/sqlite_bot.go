package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// DefaultWatchInterval is how often sqlite watchers poll the bot version
const DefaultWatchInterval = 500 * time.Millisecond

// openSQLite opens a database file, creating its directory
func openSQLite(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// sqliteBotRepo implements the bot repository on sqlite
type sqliteBotRepo struct {
	db            *sql.DB
	watchInterval time.Duration
}

// NewSQLiteBotRepo creates a new sqlite bot repository
func NewSQLiteBotRepo(dbPath string) (repo.BotRepo, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile TEXT NOT NULL,
			ig_business_id TEXT NOT NULL DEFAULT '',
			wa_phone_number_id TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 0,
			is_listening INTEGER NOT NULL DEFAULT 0,
			pending_id TEXT NOT NULL DEFAULT '',
			pending_json TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bots table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS observations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE(bot_id, text)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create observations table: %w", err)
	}

	// Create indexes
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_bots_ig ON bots(ig_business_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_wa ON bots(wa_phone_number_id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}

	return &sqliteBotRepo{db: db, watchInterval: DefaultWatchInterval}, nil
}

const botColumns = `id, profile, is_active, is_listening, pending_json, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *sqliteBotRepo) scanBot(ctx context.Context, row rowScanner) (*domain.BotProfile, error) {
	var (
		bot         domain.BotProfile
		profile     string
		pendingJSON string
		updatedAt   int64
	)
	if err := row.Scan(&bot.ID, &profile, &bot.IsActive, &bot.IsListening, &pendingJSON, &bot.Version, &updatedAt); err != nil {
		return nil, err
	}

	var rec botRecord
	if err := json.Unmarshal([]byte(profile), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode profile of bot %d: %w", bot.ID, err)
	}
	rec.apply(&bot)
	bot.UpdatedAt = time.UnixMilli(updatedAt)

	if pendingJSON != "" {
		var action domain.PendingAction
		if err := json.Unmarshal([]byte(pendingJSON), &action); err != nil {
			return nil, fmt.Errorf("failed to decode pending action of bot %d: %w", bot.ID, err)
		}
		bot.PendingAction = &action
	}

	obs, err := r.observations(ctx, bot.ID)
	if err != nil {
		return nil, err
	}
	bot.LearnedObservations = obs
	return &bot, nil
}

func (r *sqliteBotRepo) observations(ctx context.Context, botID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT text FROM observations WHERE bot_id = ? ORDER BY seq`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// Get reads a bot
func (r *sqliteBotRepo) Get(ctx context.Context, id int64) (*domain.BotProfile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	bot, err := r.scanBot(ctx, row)
	if err == sql.ErrNoRows {
		return nil, repo.ErrBotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bot: %w", err)
	}
	return bot, nil
}

// FindByChannel resolves an inbound identifier
func (r *sqliteBotRepo) FindByChannel(ctx context.Context, ch domain.Channel, identifier string) (*domain.BotProfile, error) {
	var column string
	switch ch {
	case domain.ChannelInstagram:
		column = "ig_business_id"
	case domain.ChannelWhatsApp:
		column = "wa_phone_number_id"
	default:
		return nil, nil
	}
	if identifier == "" {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE `+column+` = ? ORDER BY id LIMIT 1`, identifier)
	bot, err := r.scanBot(ctx, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find bot: %w", err)
	}
	return bot, nil
}

// List lists all bots
func (r *sqliteBotRepo) List(ctx context.Context) ([]*domain.BotProfile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM bots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan bot id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	bots := make([]*domain.BotProfile, 0, len(ids))
	for _, id := range ids {
		bot, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, nil
}

// Save creates or updates the profile. Flags and the pending action are
// only written when the bot is created.
func (r *sqliteBotRepo) Save(ctx context.Context, bot *domain.BotProfile) error {
	profile, err := json.Marshal(toBotRecord(bot))
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	now := time.Now()
	if bot.UpdatedAt.IsZero() {
		bot.UpdatedAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if bot.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bots (profile, ig_business_id, wa_phone_number_id, is_active, is_listening, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(profile), bot.Instagram.BusinessID, bot.WhatsApp.PhoneNumberID, bot.IsActive, bot.IsListening, bot.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert bot: %w", err)
		}
		if bot.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read bot id: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bots (id, profile, ig_business_id, wa_phone_number_id, is_active, is_listening, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				profile = excluded.profile,
				ig_business_id = excluded.ig_business_id,
				wa_phone_number_id = excluded.wa_phone_number_id,
				updated_at = excluded.updated_at,
				version = version + 1
		`, bot.ID, string(profile), bot.Instagram.BusinessID, bot.WhatsApp.PhoneNumberID, bot.IsActive, bot.IsListening, bot.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to save bot: %w", err)
		}
	}

	for _, obs := range bot.LearnedObservations {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO observations (bot_id, text, created_at) VALUES (?, ?, ?)
		`, bot.ID, obs, now.UnixMilli()); err != nil {
			return fmt.Errorf("failed to save observation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bot: %w", err)
	}
	return nil
}

// CompareAndSetFlags updates the flags only when they still hold expected
func (r *sqliteBotRepo) CompareAndSetFlags(ctx context.Context, id int64, expected, next domain.Flags) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bots SET is_active = ?, is_listening = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND is_active = ? AND is_listening = ?
	`, next.IsActive, next.IsListening, time.Now().UnixMilli(), id, expected.IsActive, expected.IsListening)
	if err != nil {
		return false, fmt.Errorf("failed to update flags: %w", err)
	}
	return r.affected(ctx, res, id)
}

// SetPendingAction replaces the pending action slot
func (r *sqliteBotRepo) SetPendingAction(ctx context.Context, id int64, action *domain.PendingAction) (*domain.PendingAction, error) {
	var pendingID, pendingJSON string
	if action != nil {
		data, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("failed to encode pending action: %w", err)
		}
		pendingID, pendingJSON = action.ID, string(data)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prevJSON string
	err = tx.QueryRowContext(ctx, `SELECT pending_json FROM bots WHERE id = ?`, id).Scan(&prevJSON)
	if err == sql.ErrNoRows {
		return nil, repo.ErrBotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending action: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bots SET pending_id = ?, pending_json = ?, version = version + 1, updated_at = ? WHERE id = ?
	`, pendingID, pendingJSON, time.Now().UnixMilli(), id); err != nil {
		return nil, fmt.Errorf("failed to write pending action: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pending action: %w", err)
	}

	if prevJSON == "" {
		return nil, nil
	}
	var prev domain.PendingAction
	if err := json.Unmarshal([]byte(prevJSON), &prev); err != nil {
		return nil, nil
	}
	return &prev, nil
}

// ClearPendingAction empties the slot if it still holds expectedID
func (r *sqliteBotRepo) ClearPendingAction(ctx context.Context, id int64, expectedID string) (bool, error) {
	if expectedID == "" {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE bots SET pending_id = '', pending_json = '', version = version + 1, updated_at = ?
		WHERE id = ? AND pending_id = ?
	`, time.Now().UnixMilli(), id, expectedID)
	if err != nil {
		return false, fmt.Errorf("failed to clear pending action: %w", err)
	}
	return r.affected(ctx, res, id)
}

// AppendObservation adds an observation unless already present
func (r *sqliteBotRepo) AppendObservation(ctx context.Context, id int64, observation string) (bool, error) {
	if err := r.exists(ctx, id); err != nil {
		return false, err
	}
	observation = strings.TrimSpace(observation)
	if observation == "" {
		return false, nil
	}
	now := time.Now().UnixMilli()
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO observations (bot_id, text, created_at) VALUES (?, ?, ?)
	`, id, observation, now)
	if err != nil {
		return false, fmt.Errorf("failed to append observation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	_, _ = r.db.ExecContext(ctx, `UPDATE bots SET version = version + 1, updated_at = ? WHERE id = ?`, now, id)
	return true, nil
}

// Watch polls the bot version and emits the bot on every change
func (r *sqliteBotRepo) Watch(ctx context.Context, id int64) (<-chan *domain.BotProfile, error) {
	first, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ch := make(chan *domain.BotProfile, 1)
	ch <- first
	go func() {
		defer close(ch)
		ticker := time.NewTicker(r.watchInterval)
		defer ticker.Stop()

		version := first.Version
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			var current int64
			if err := r.db.QueryRowContext(ctx, `SELECT version FROM bots WHERE id = ?`, id).Scan(&current); err != nil {
				if err == sql.ErrNoRows {
					return
				}
				continue
			}
			if current == version {
				continue
			}
			bot, err := r.Get(ctx, id)
			if err != nil {
				continue
			}
			version = bot.Version
			select {
			case ch <- bot:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Close closes the database
func (r *sqliteBotRepo) Close() error {
	return r.db.Close()
}

func (r *sqliteBotRepo) affected(ctx context.Context, res sql.Result, id int64) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if err := r.exists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *sqliteBotRepo) exists(ctx context.Context, id int64) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM bots WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return repo.ErrBotNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query bot: %w", err)
	}
	return nil
}
