package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BackupTo writes a consistent snapshot of the database to dstPath. VACUUM INTO
// copies committed state only, so it is safe to run while the bot is live and
// WAL mode is on. The destination must not already exist.
func (d *DB) BackupTo(ctx context.Context, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}
	// Single quotes double up inside a SQLite string literal.
	quoted := strings.ReplaceAll(dstPath, "'", "''")
	if _, err := d.sql.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dstPath, err)
	}
	return nil
}
