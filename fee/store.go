/*
store.go - Persistence interfaces for the fee engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine is
  written against these interfaces only; store/sqlite and fee/store (memory)
  implement them.

KEY INTERFACES:
  SubjectStore:     Subjects and their pricing fields
  AccountStore:     Ledger accounts (subject receivables, system accounts)
  InstallmentStore: A subject's installment set
  ReceiptStore:     Receipts with their payment lines
  LedgerStore:      Ledger transactions and entries
  TxStore:          All of the above inside one atomic unit

FIND-OR-NONE:
  Get* methods return (nil, nil) when the record does not exist. Callers
  branch on the nil explicitly; a non-nil error always means the lookup
  itself failed.

ATOMIC UNITS:
  WithTx runs fn against a Store bound to one database transaction. If fn
  returns an error nothing it wrote is kept. Schedule replacement, replay
  and posting for a subject always happen inside one WithTx.
*/
package fee

import "context"

type SubjectStore interface {
	GetSubject(ctx context.Context, id SubjectID) (*Subject, error)
	ListSubjects(ctx context.Context, filter SubjectFilter) ([]Subject, error)
	SaveSubject(ctx context.Context, s Subject) error
}

type AccountStore interface {
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	FindSystemAccount(ctx context.Context, scope string, role AccountRole) (*Account, error)
	SaveAccount(ctx context.Context, a Account) error
}

type InstallmentStore interface {
	// ListInstallments returns the subject's installments ordered by Sequence.
	ListInstallments(ctx context.Context, subjectID SubjectID) ([]Installment, error)

	// ReplaceInstallments deletes the subject's installments and inserts the
	// given set.
	ReplaceInstallments(ctx context.Context, subjectID SubjectID, installments []Installment) error

	// UpdateInstallment writes paid state and the transaction link.
	UpdateInstallment(ctx context.Context, inst Installment) error
}

type ReceiptStore interface {
	GetReceipt(ctx context.Context, id ReceiptID) (*Receipt, error)

	// ListReceipts returns active receipts of the subject, ordered by
	// (Date, ID).
	ListReceipts(ctx context.Context, subjectID SubjectID) ([]Receipt, error)

	// SaveReceipt upserts the receipt header and replaces its lines.
	SaveReceipt(ctx context.Context, r Receipt) error
}

type LedgerStore interface {
	// GetTransaction returns the transaction with its entries.
	GetTransaction(ctx context.Context, id TransactionID) (*LedgerTransaction, error)

	// SaveTransaction upserts the header and replaces all entries with
	// tx.Entries.
	SaveTransaction(ctx context.Context, tx LedgerTransaction) error

	// DeleteTransaction removes the transaction and its entries. Deleting a
	// missing transaction is not an error.
	DeleteTransaction(ctx context.Context, id TransactionID) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	SubjectStore
	AccountStore
	InstallmentStore
	ReceiptStore
	LedgerStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
