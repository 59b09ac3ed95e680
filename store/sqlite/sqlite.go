/*
Package sqlite provides a SQLite-backed implementation of fee.TxStore.

PURPOSE:
  Persists subjects, ledger accounts, installments, receipts and ledger
  transactions. The same SQL runs against the pool and inside WithTx; only
  the querier underneath changes.

KEY TABLES:
  subjects:             Subject records with their pricing fields
  accounts:             Ledger accounts (receivable per subject, system per scope)
  installments:         Current installment set per subject
  receipts:             Receipt headers (soft-deleted via active = 0)
  receipt_lines:        Payment lines, cascade with their receipt
  ledger_transactions:  Fee-due and fee-receipt transactions
  ledger_entries:       Debit/credit lines, cascade with their transaction

AMOUNTS AND DATES:
  Money is stored as TEXT in fixed two-decimal form and parsed back with
  decimal precision. Calendar dates are TEXT YYYY-MM-DD so they sort
  correctly; timestamps are RFC3339.

CONCURRENCY:
  The pool is limited to one connection. SQLite serializes writers anyway,
  and ":memory:" databases are per connection, so a larger pool would hand
  out empty databases. WithTx holds the store's write lock for the whole
  closure; the view it passes never takes that lock again.

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := fee.NewService(store)

SEE ALSO:
  - fee/store.go: Interface definitions
  - fee/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/tuition-engine/fee"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements fee.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		account_id TEXT,
		course_fee TEXT,
		discount TEXT NOT NULL DEFAULT '0.00',
		admission_fee TEXT NOT NULL DEFAULT '0.00',
		fee_type TEXT NOT NULL DEFAULT '',
		installment_type TEXT NOT NULL DEFAULT '',
		custom_months INTEGER NOT NULL DEFAULT 0,
		start_date TEXT,
		admission_fee_method TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subjects_scope ON subjects(scope);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		name TEXT NOT NULL,
		subject_id TEXT,
		created_at TEXT NOT NULL
	);

	-- One system account per (scope, role)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_system
		ON accounts(scope, role) WHERE subject_id IS NULL;

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		sequence INTEGER NOT NULL,
		name TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		due_date TEXT,
		payment_date TEXT,
		paid INTEGER NOT NULL DEFAULT 0,
		transaction_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_installments_subject
		ON installments(subject_id, sequence);

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		number TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		transaction_id TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_subject_date
		ON receipts(subject_id, date, id);

	CREATE TABLE IF NOT EXISTS receipt_lines (
		receipt_id TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		method TEXT NOT NULL,
		amount TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (receipt_id, position)
	);

	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		tx_type TEXT NOT NULL,
		date TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL,
		voucher TEXT NOT NULL,
		narration TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		total_amount TEXT NOT NULL,
		received_amount TEXT NOT NULL,
		balance_amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_transactions_subject
		ON ledger_transactions(subject_id, date);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES ledger_transactions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		debit TEXT NOT NULL,
		credit TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction
		ON ledger_entries(transaction_id, position);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// fee.Store - pool-backed methods
// =============================================================================

func (s *Store) GetSubject(ctx context.Context, id fee.SubjectID) (*fee.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getSubject(ctx, id)
}

func (s *Store) ListSubjects(ctx context.Context, filter fee.SubjectFilter) ([]fee.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listSubjects(ctx, filter)
}

func (s *Store) SaveSubject(ctx context.Context, subject fee.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.saveSubject(ctx, subject)
}

func (s *Store) GetAccount(ctx context.Context, id fee.AccountID) (*fee.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getAccount(ctx, id)
}

func (s *Store) FindSystemAccount(ctx context.Context, scope string, role fee.AccountRole) (*fee.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.findSystemAccount(ctx, scope, role)
}

func (s *Store) SaveAccount(ctx context.Context, a fee.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.saveAccount(ctx, a)
}

func (s *Store) ListInstallments(ctx context.Context, id fee.SubjectID) ([]fee.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listInstallments(ctx, id)
}

func (s *Store) ReplaceInstallments(ctx context.Context, id fee.SubjectID, installments []fee.Installment) error {
	return s.WithTx(ctx, func(st fee.Store) error {
		return st.ReplaceInstallments(ctx, id, installments)
	})
}

func (s *Store) UpdateInstallment(ctx context.Context, inst fee.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.updateInstallment(ctx, inst)
}

func (s *Store) GetReceipt(ctx context.Context, id fee.ReceiptID) (*fee.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getReceipt(ctx, id)
}

func (s *Store) ListReceipts(ctx context.Context, id fee.SubjectID) ([]fee.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listReceipts(ctx, id)
}

func (s *Store) SaveReceipt(ctx context.Context, r fee.Receipt) error {
	return s.WithTx(ctx, func(st fee.Store) error {
		return st.SaveReceipt(ctx, r)
	})
}

func (s *Store) GetTransaction(ctx context.Context, id fee.TransactionID) (*fee.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getTransaction(ctx, id)
}

func (s *Store) SaveTransaction(ctx context.Context, tx fee.LedgerTransaction) error {
	return s.WithTx(ctx, func(st fee.Store) error {
		return st.SaveTransaction(ctx, tx)
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, id fee.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.deleteTransaction(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (fee.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store fee.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: queries{db: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open *sql.Tx. It never touches Store.mu.
type txStore struct {
	q queries
}

func (ts *txStore) GetSubject(ctx context.Context, id fee.SubjectID) (*fee.Subject, error) {
	return ts.q.getSubject(ctx, id)
}

func (ts *txStore) ListSubjects(ctx context.Context, filter fee.SubjectFilter) ([]fee.Subject, error) {
	return ts.q.listSubjects(ctx, filter)
}

func (ts *txStore) SaveSubject(ctx context.Context, s fee.Subject) error {
	return ts.q.saveSubject(ctx, s)
}

func (ts *txStore) GetAccount(ctx context.Context, id fee.AccountID) (*fee.Account, error) {
	return ts.q.getAccount(ctx, id)
}

func (ts *txStore) FindSystemAccount(ctx context.Context, scope string, role fee.AccountRole) (*fee.Account, error) {
	return ts.q.findSystemAccount(ctx, scope, role)
}

func (ts *txStore) SaveAccount(ctx context.Context, a fee.Account) error {
	return ts.q.saveAccount(ctx, a)
}

func (ts *txStore) ListInstallments(ctx context.Context, id fee.SubjectID) ([]fee.Installment, error) {
	return ts.q.listInstallments(ctx, id)
}

func (ts *txStore) ReplaceInstallments(ctx context.Context, id fee.SubjectID, installments []fee.Installment) error {
	return ts.q.replaceInstallments(ctx, id, installments)
}

func (ts *txStore) UpdateInstallment(ctx context.Context, inst fee.Installment) error {
	return ts.q.updateInstallment(ctx, inst)
}

func (ts *txStore) GetReceipt(ctx context.Context, id fee.ReceiptID) (*fee.Receipt, error) {
	return ts.q.getReceipt(ctx, id)
}

func (ts *txStore) ListReceipts(ctx context.Context, id fee.SubjectID) ([]fee.Receipt, error) {
	return ts.q.listReceipts(ctx, id)
}

func (ts *txStore) SaveReceipt(ctx context.Context, r fee.Receipt) error {
	return ts.q.saveReceipt(ctx, r)
}

func (ts *txStore) GetTransaction(ctx context.Context, id fee.TransactionID) (*fee.LedgerTransaction, error) {
	return ts.q.getTransaction(ctx, id)
}

func (ts *txStore) SaveTransaction(ctx context.Context, tx fee.LedgerTransaction) error {
	return ts.q.saveTransaction(ctx, tx)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, id fee.TransactionID) error {
	return ts.q.deleteTransaction(ctx, id)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"ledger_entries", "ledger_transactions", "receipt_lines", "receipts",
		"installments", "accounts", "subjects",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fee.FormatDate(*t), Valid: true}
}

func parseNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := fee.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
