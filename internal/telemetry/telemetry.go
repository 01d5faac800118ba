// Package telemetry persists the read-side history the command surface
// needs for --status and --logs: the watchdog's recent alerts and the
// outcome of each --verify run. It is a read-side convenience only; nothing
// in the orchestrator's mutation or restore logic ever queries it, and a
// Recorder that fails to open degrades every caller to "no history
// available" rather than blocking anonymity operations.
package telemetry

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // SQLCipher driver for the encrypted history store

	"github.com/anonmanager/anonmanager/internal/fileutil"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/types"
)

var log = logger.New("telemetry")

// MinEncryptionKeyLength is the minimum accepted length for a caller-supplied
// history encryption key, mirrored by config.Secrets.ValidateHistoryKey.
const MinEncryptionKeyLength = 16

// generatedKeyBytes is the size of a randomly generated default key, before
// hex encoding, chosen well above MinEncryptionKeyLength.
const generatedKeyBytes = 32

// Recorder is the encrypted local store for WatchdogAlert and VerifyRun
// history. A nil *Recorder is valid and every method on it is a no-op that
// returns zero values, so a caller that could not open the store can still
// run without one.
type Recorder struct {
	db *sql.DB
}

// KeyPath returns the conventional location of the generated default history
// key, stored beside the runtime state file so both live under the same
// mode-0700 config root.
func KeyPath(root string) string {
	return filepath.Join(root, "history.key")
}

// ResolveEncryptionKey returns override if non-empty (the operator's own
// profile history_key, settable as ANONMANAGER_HISTORY_KEY), otherwise reads the key
// persisted at KeyPath(root), generating and persisting a new random one on
// first use. The generated key is never printed or logged.
func ResolveEncryptionKey(root, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	path := KeyPath(root)
	if data, err := os.ReadFile(path); err == nil {
		return string(data), nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read history key: %w", err)
	}

	raw := make([]byte, generatedKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate history key: %w", err)
	}
	key := hex.EncodeToString(raw)
	if err := fileutil.SecureWriteFile(path, []byte(key)); err != nil {
		return "", fmt.Errorf("persist history key: %w", err)
	}
	return key, nil
}

// Open creates or opens the SQLCipher-encrypted history database at dbPath
// and ensures its schema exists. encryptionKey must be at least
// MinEncryptionKeyLength bytes.
func Open(dbPath, encryptionKey string) (*Recorder, error) {
	if len(encryptionKey) < MinEncryptionKeyLength {
		return nil, fmt.Errorf("history encryption key must be at least %d characters", MinEncryptionKeyLength)
	}

	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "1")
	params.Set("_pragma_key", encryptionKey)
	dsn := dbPath + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.QueryRowContext(context.Background(), "SELECT 1").Scan(new(int)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history store encryption key verification failed: %w", err)
	}

	if _, err := conn.ExecContext(context.Background(), schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	return &Recorder{db: conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS watchdog_alerts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	category    TEXT NOT NULL,
	message     TEXT NOT NULL,
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watchdog_alerts_occurred_at ON watchdog_alerts(occurred_at);

CREATE TABLE IF NOT EXISTS verify_runs (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ran_at  TEXT NOT NULL,
	pass    INTEGER NOT NULL,
	fail    INTEGER NOT NULL,
	warn    INTEGER NOT NULL,
	results TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verify_runs_ran_at ON verify_runs(ran_at);
`

// Close closes the underlying database connection. Safe to call on a nil
// Recorder.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}

// RecordAlert appends one watchdog alert to history. A nil Recorder is a
// silent no-op, since alert persistence is a convenience the watchdog's
// own drain loop must never let block or fail its caller.
func (r *Recorder) RecordAlert(ctx context.Context, alert types.WatchdogAlert) error {
	if r == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watchdog_alerts (category, message, occurred_at) VALUES (?, ?, ?)`,
		string(alert.Category), alert.Message, alert.Time.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit of the most recently recorded alerts,
// newest first.
func (r *Recorder) RecentAlerts(ctx context.Context, limit int) ([]types.WatchdogAlert, error) {
	if r == nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, message, occurred_at FROM watchdog_alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	var out []types.WatchdogAlert
	for rows.Next() {
		var category, message, occurredAt string
		if err := rows.Scan(&category, &message, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, occurredAt)
		if err != nil {
			t = time.Time{}
		}
		out = append(out, types.WatchdogAlert{
			Category: types.AlertCategory(category),
			Message:  message,
			Time:     t,
		})
	}
	return out, rows.Err()
}

// CheckResult is telemetry's own persisted shape for one verify check
// outcome. It deliberately does not import package verify, so that a
// read-side history store never becomes load-bearing for the verifier's own
// type definitions; callers translate verify.CheckResult into this shape.
type CheckResult struct {
	Name   string
	Status string
	Detail string
}

// VerifyRun is one persisted --verify invocation.
type VerifyRun struct {
	Time    time.Time
	Pass    int
	Fail    int
	Warn    int
	Results []CheckResult
}

// RecordVerifyRun appends one verify run summary to history.
func (r *Recorder) RecordVerifyRun(ctx context.Context, run VerifyRun) error {
	if r == nil {
		return nil
	}
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshal verify results: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO verify_runs (ran_at, pass, fail, warn, results) VALUES (?, ?, ?, ?, ?)`,
		run.Time.Format(time.RFC3339), run.Pass, run.Fail, run.Warn, string(resultsJSON))
	if err != nil {
		return fmt.Errorf("record verify run: %w", err)
	}
	return nil
}

// RecentVerifyRuns returns up to limit of the most recently recorded verify
// runs, newest first.
func (r *Recorder) RecentVerifyRuns(ctx context.Context, limit int) ([]VerifyRun, error) {
	if r == nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT ran_at, pass, fail, warn, results FROM verify_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent verify runs: %w", err)
	}
	defer rows.Close()

	var out []VerifyRun
	for rows.Next() {
		var ranAt, resultsJSON string
		var run VerifyRun
		if err := rows.Scan(&ranAt, &run.Pass, &run.Fail, &run.Warn, &resultsJSON); err != nil {
			return nil, fmt.Errorf("scan verify run row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, ranAt); err == nil {
			run.Time = t
		}
		if err := json.Unmarshal([]byte(resultsJSON), &run.Results); err != nil {
			return nil, fmt.Errorf("unmarshal verify results: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// DrainAlerts reads from alerts until ctx is done or the channel is closed,
// recording each one. Intended to run in its own goroutine for the lifetime
// of an enabled session; a record failure is logged and the loop continues,
// since the watchdog's own alert channel must never back up on a stalled
// history store.
func (r *Recorder) DrainAlerts(ctx context.Context, alerts <-chan types.WatchdogAlert) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-alerts:
			if !ok {
				return
			}
			if err := r.RecordAlert(ctx, alert); err != nil {
				log.Warn("failed to record watchdog alert: %v", err)
			}
		}
	}
}
