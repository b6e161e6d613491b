package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Clemson-Esports/dues-bot/model"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Single connection avoids "database is locked" under concurrent
	// workflow goroutines.
	db.SetMaxOpenConns(1)

	d := &DB{db}
	if err := d.init(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dues_records (
            invoice_id TEXT PRIMARY KEY,
            chat_id INTEGER,
            name TEXT,
            email TEXT,
            amount_cents INTEGER,
            currency TEXT,
            issued_at TIMESTAMP,
            due_at TIMESTAMP,
            outcome TEXT DEFAULT '',
            decided_at TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS applied_effects (
            invoice_id TEXT PRIMARY KEY,
            outcome TEXT,
            applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
	}

	for _, query := range queries {
		if _, err := d.Exec(query); err != nil {
			return fmt.Errorf("init db error: %w", err)
		}
	}
	return nil
}

// RecordInvoice writes the audit row for a freshly created invoice.
// The outcome stays empty until the workflow is terminal.
func (d *DB) RecordInvoice(rec model.DuesRecord) error {
	_, err := d.Exec(
		`INSERT OR REPLACE INTO dues_records
            (invoice_id, chat_id, name, email, amount_cents, currency, issued_at, due_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InvoiceID, rec.ChatID, rec.Name, rec.Email, rec.AmountCents, rec.Currency, rec.IssuedAt, rec.DueAt,
	)
	return err
}

func (d *DB) RecordOutcome(invoiceID, outcome string, decidedAt time.Time) error {
	_, err := d.Exec(
		"UPDATE dues_records SET outcome = ?, decided_at = ? WHERE invoice_id = ?",
		outcome, decidedAt, invoiceID,
	)
	return err
}

func (d *DB) WasEffectApplied(invoiceID string) (bool, error) {
	var exists int
	err := d.QueryRow("SELECT 1 FROM applied_effects WHERE invoice_id = ?", invoiceID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *DB) MarkEffectApplied(invoiceID, outcome string) error {
	_, err := d.Exec("INSERT OR REPLACE INTO applied_effects (invoice_id, outcome) VALUES (?, ?)", invoiceID, outcome)
	return err
}

// LatestRecordFor returns the most recently issued record for a chat,
// or nil when the payer never requested dues.
func (d *DB) LatestRecordFor(chatID int64) (*model.DuesRecord, error) {
	row := d.QueryRow(
		`SELECT invoice_id, chat_id, name, email, amount_cents, currency, issued_at, due_at, outcome, decided_at
         FROM dues_records WHERE chat_id = ? ORDER BY issued_at DESC LIMIT 1`,
		chatID,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentOutcomes returns up to limit decided records, newest first.
func (d *DB) RecentOutcomes(limit int) ([]model.DuesRecord, error) {
	rows, err := d.Query(
		`SELECT invoice_id, chat_id, name, email, amount_cents, currency, issued_at, due_at, outcome, decided_at
         FROM dues_records WHERE outcome != '' ORDER BY decided_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.DuesRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CleanOldRecords prunes decided records and their effect guards older
// than the given number of days.
func (d *DB) CleanOldRecords(days int) error {
	cutoff := time.Now().AddDate(0, 0, -days)
	_, err := d.Exec("DELETE FROM dues_records WHERE outcome != '' AND decided_at < ?", cutoff)
	if err != nil {
		return err
	}
	_, err = d.Exec("DELETE FROM applied_effects WHERE applied_at < ?", cutoff)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.DuesRecord, error) {
	var rec model.DuesRecord
	var decided sql.NullTime
	err := row.Scan(
		&rec.InvoiceID, &rec.ChatID, &rec.Name, &rec.Email,
		&rec.AmountCents, &rec.Currency, &rec.IssuedAt, &rec.DueAt,
		&rec.Outcome, &decided,
	)
	if err != nil {
		return nil, err
	}
	if decided.Valid {
		rec.DecidedAt = &decided.Time
	}
	return &rec, nil
}
