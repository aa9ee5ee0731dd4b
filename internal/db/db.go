package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1) // SQLite best practice for embedded use
	sqldb.SetConnMaxLifetime(0)

	db := &DB{sql: sqldb}
	if err := db.migrate(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			salary_day INTEGER NOT NULL DEFAULT 25,
			advance_day INTEGER NOT NULL DEFAULT 10,
			min_contrib INTEGER NOT NULL DEFAULT 40000,
			max_contrib INTEGER NOT NULL DEFAULT 50000,
			risk TEXT NOT NULL DEFAULT 'balanced',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS contribs (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			amount REAL NOT NULL,
			source TEXT NOT NULL DEFAULT 'manual'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_contribs_user_date ON contribs(user_id, date);`,
	}
	for _, s := range stmts {
		if _, err := d.sql.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

type User struct {
	UserID     int64
	SalaryDay  int
	AdvanceDay int
	MinContrib int
	MaxContrib int
	Risk       string // conservative | balanced | aggressive
}

// EnsureUser inserts a user with default settings if missing and returns the
// current row either way.
func (d *DB) EnsureUser(ctx context.Context, userID int64) (User, error) {
	now := time.Now().Unix()
	_, err := d.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(user_id, created_at, updated_at) VALUES(?,?,?)`,
		userID, now, now)
	if err != nil {
		return User{}, err
	}
	return d.GetUser(ctx, userID)
}

func (d *DB) GetUser(ctx context.Context, userID int64) (User, error) {
	var u User
	err := d.sql.QueryRowContext(ctx,
		`SELECT user_id, salary_day, advance_day, min_contrib, max_contrib, risk FROM users WHERE user_id=?`,
		userID).
		Scan(&u.UserID, &u.SalaryDay, &u.AdvanceDay, &u.MinContrib, &u.MaxContrib, &u.Risk)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// UserExists reports whether the user ever ran /start.
func (d *DB) UserExists(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := d.sql.QueryRowContext(ctx, `SELECT 1 FROM users WHERE user_id=?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveSetup stores the wizard results for a user.
func (d *DB) SaveSetup(ctx context.Context, u User) error {
	now := time.Now().Unix()
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO users(user_id, salary_day, advance_day, min_contrib, max_contrib, risk, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
			salary_day=excluded.salary_day,
			advance_day=excluded.advance_day,
			min_contrib=excluded.min_contrib,
			max_contrib=excluded.max_contrib,
			risk=excluded.risk,
			updated_at=excluded.updated_at`,
		u.UserID, u.SalaryDay, u.AdvanceDay, u.MinContrib, u.MaxContrib, u.Risk, now, now)
	return err
}

func (d *DB) SetRisk(ctx context.Context, userID int64, risk string) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE users SET risk=?, updated_at=? WHERE user_id=?`, risk, time.Now().Unix(), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *DB) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT user_id, salary_day, advance_day, min_contrib, max_contrib, risk FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.SalaryDay, &u.AdvanceDay, &u.MinContrib, &u.MaxContrib, &u.Risk); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type Contribution struct {
	ID     string
	UserID int64
	Date   time.Time
	Amount float64
	Source string // salary | advance | manual | adjustment
}

// AddContribution records a contribution and returns its generated id.
func (d *DB) AddContribution(ctx context.Context, userID int64, date time.Time, amount float64, source string) (string, error) {
	if source == "" {
		source = "manual"
	}
	id := uuid.New().String()
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO contribs(id, user_id, date, amount, source) VALUES(?,?,?,?,?)`,
		id, userID, date.Format("2006-01-02"), amount, source)
	if err != nil {
		return "", err
	}
	return id, nil
}

// TotalContributions returns the all-time sum for a user.
func (d *DB) TotalContributions(ctx context.Context, userID int64) (float64, error) {
	var total sql.NullFloat64
	err := d.sql.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM contribs WHERE user_id=?`, userID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

type MonthTotal struct {
	Month string // "2006-01"
	Total float64
}

// MonthlyTotals returns per-month contribution sums, newest first, capped at
// limit months.
func (d *DB) MonthlyTotals(ctx context.Context, userID int64, limit int) ([]MonthTotal, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT substr(date, 1, 7) AS month, SUM(amount)
		 FROM contribs WHERE user_id=?
		 GROUP BY month ORDER BY month DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthTotal
	for rows.Next() {
		var mt MonthTotal
		if err := rows.Scan(&mt.Month, &mt.Total); err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}
