/*
ledger.go - Double-entry posting of dues and receipts

PURPOSE:
  Mirrors fee events into the ledger. A due installment becomes a fee-due
  transaction (debit the subject, credit tuition income); a receipt becomes
  a fee-receipt transaction (credit the subject, debit cash or bank per
  payment line).

CRITICAL INVARIANTS:
  1. BALANCED: every transaction is checked with ValidateBalanced before it
     is written. Debits equal credits, each entry is one-sided.
  2. ONE LINK: an installment or receipt points to at most one transaction.
     Posting again reuses it instead of creating a second one.
  3. NO PARTIAL WRITES: all accounts are resolved before the first write.
     A missing account leaves the store untouched.

RE-POSTING A RECEIPT:
  The linked transaction keeps its ID. Its amounts are refreshed and its
  entries are replaced wholesale. Entry IDs are derived from the
  transaction ID and position (<txID>-<n>), so posting an unchanged receipt
  twice yields the same entry set.

EXAMPLE:
  Receipt R-7, lines [cash 300.00, bank 200.00]
    credit  receivable(subject)  500.00
    debit   cash-on-hand         300.00
    debit   bank                 200.00
*/
package fee

import (
	"context"
	"fmt"
)

const (
	TxStatusDue      = "due"
	TxStatusReceived = "received"
)

// LedgerPoster writes ledger transactions for dues and receipts.
type LedgerPoster struct {
	store    Store
	accounts AccountResolver
	clock    Clock
}

// NewLedgerPoster builds a poster that stamps transactions with clock. A nil
// clock uses the system time.
func NewLedgerPoster(store Store, accounts AccountResolver, clock Clock) *LedgerPoster {
	return &LedgerPoster{store: store, accounts: accounts, clock: clock}
}

// PostDue records the installment as owed. A zero installment is a no-op
// and an already linked installment returns its existing transaction.
func (p *LedgerPoster) PostDue(ctx context.Context, subject Subject, inst *Installment) (*LedgerTransaction, error) {
	if !inst.Amount.IsPositive() {
		return nil, nil
	}
	if inst.TransactionID != "" {
		existing, err := p.store.GetTransaction(ctx, inst.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("load due transaction: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	receivable, err := p.accounts.ResolveSubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	income, err := p.accounts.ResolveSystem(ctx, subject.Scope, RoleTuitionIncome)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	date := p.clock.Today()
	if inst.DueDate != nil {
		date = *inst.DueDate
	}
	txID := NewTransactionID()
	tx := LedgerTransaction{
		ID:            txID,
		Type:          TxFeeDue,
		Date:          DateOnly(date),
		Scope:         subject.Scope,
		SubjectID:     subject.ID,
		Voucher:       fmt.Sprintf("FEE-DUE-%s", inst.ID),
		Narration:     fmt.Sprintf("%s due from %s", inst.Name, subject.Name),
		Status:        TxStatusDue,
		TotalAmount:   inst.Amount,
		BalanceAmount: inst.Amount,
		Entries: []LedgerEntry{
			{AccountID: receivable, Debit: inst.Amount, Credit: Zero(), Description: inst.Name},
			{AccountID: income, Debit: Zero(), Credit: inst.Amount, Description: inst.Name},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	numberEntries(&tx)

	if err := ValidateBalanced(tx); err != nil {
		return nil, err
	}
	if err := p.store.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save due transaction: %w", err)
	}

	inst.TransactionID = txID
	if err := p.store.UpdateInstallment(ctx, *inst); err != nil {
		return nil, fmt.Errorf("link installment %s: %w", inst.ID, err)
	}
	return &tx, nil
}

// PostReceipt creates or refreshes the receipt's transaction.
func (p *LedgerPoster) PostReceipt(ctx context.Context, subject Subject, r *Receipt) (*LedgerTransaction, error) {
	total := r.Total()
	if !total.IsPositive() {
		return nil, nil
	}

	// Resolve everything first.
	receivable, err := p.accounts.ResolveSubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	lineAccounts := make([]AccountID, len(r.Lines))
	for i, line := range r.Lines {
		role := RoleBank
		if line.Method.IsCash() {
			role = RoleCashOnHand
		}
		lineAccounts[i], err = p.accounts.ResolveSystem(ctx, subject.Scope, role)
		if err != nil {
			return nil, err
		}
	}

	var existing *LedgerTransaction
	if r.TransactionID != "" {
		existing, err = p.store.GetTransaction(ctx, r.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("load receipt transaction: %w", err)
		}
	}

	now := p.clock.Now()
	tx := LedgerTransaction{
		ID:             NewTransactionID(),
		CreatedAt:      now,
		Type:           TxFeeReceipt,
		Date:           DateOnly(r.Date),
		Scope:          subject.Scope,
		SubjectID:      subject.ID,
		Voucher:        receiptVoucher(r),
		Narration:      receiptNarration(r, subject),
		Status:         TxStatusReceived,
		TotalAmount:    total,
		ReceivedAmount: total,
		BalanceAmount:  Zero(),
		UpdatedAt:      now,
	}
	if existing != nil {
		tx.ID = existing.ID
		tx.CreatedAt = existing.CreatedAt
	}

	tx.Entries = append(tx.Entries, LedgerEntry{
		AccountID: receivable, Debit: Zero(), Credit: total, Description: tx.Narration,
	})
	for i, line := range r.Lines {
		tx.Entries = append(tx.Entries, LedgerEntry{
			AccountID:   lineAccounts[i],
			Debit:       line.Amount,
			Credit:      Zero(),
			Description: fmt.Sprintf("%s payment", line.Method.Normalize()),
		})
	}
	numberEntries(&tx)

	if err := ValidateBalanced(tx); err != nil {
		return nil, err
	}
	if err := p.store.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save receipt transaction: %w", err)
	}

	if r.TransactionID != tx.ID {
		r.TransactionID = tx.ID
		if err := p.store.SaveReceipt(ctx, *r); err != nil {
			return nil, fmt.Errorf("link receipt %s: %w", r.ID, err)
		}
	}
	return &tx, nil
}

// VoidTransaction deletes a transaction and its entries. An empty ID is a
// no-op.
func (p *LedgerPoster) VoidTransaction(ctx context.Context, id TransactionID) error {
	if id == "" {
		return nil
	}
	if err := p.store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("void transaction %s: %w", id, err)
	}
	return nil
}

// ValidateBalanced checks the double-entry rules for tx.
func ValidateBalanced(tx LedgerTransaction) error {
	if len(tx.Entries) == 0 {
		return &UnbalancedTransactionError{TransactionID: tx.ID, Reason: "no entries"}
	}
	for i, e := range tx.Entries {
		if e.Debit.IsNegative() || e.Credit.IsNegative() {
			return &UnbalancedTransactionError{TransactionID: tx.ID,
				Reason: fmt.Sprintf("entry %d has a negative amount", i+1)}
		}
		if e.Debit.IsZero() == e.Credit.IsZero() {
			return &UnbalancedTransactionError{TransactionID: tx.ID,
				Reason: fmt.Sprintf("entry %d must carry exactly one of debit or credit", i+1)}
		}
	}
	debits, credits := tx.Debits(), tx.Credits()
	if !debits.Equal(credits) {
		return &UnbalancedTransactionError{TransactionID: tx.ID, Debits: debits, Credits: credits}
	}
	return nil
}

func numberEntries(tx *LedgerTransaction) {
	for i := range tx.Entries {
		tx.Entries[i].ID = fmt.Sprintf("%s-%d", tx.ID, i+1)
		tx.Entries[i].TransactionID = tx.ID
	}
}

func receiptVoucher(r *Receipt) string {
	if r.Number != "" {
		return r.Number
	}
	return fmt.Sprintf("FEE-RCPT-%s", r.ID)
}

func receiptNarration(r *Receipt, subject Subject) string {
	if r.Kind == ReceiptAdmissionFee {
		return fmt.Sprintf("Admission fee received from %s", subject.Name)
	}
	return fmt.Sprintf("Fee received from %s", subject.Name)
}
