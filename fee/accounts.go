package fee

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDS - Time-ordered so that creation order survives string sorting
// =============================================================================

func newID() string { return uuid.Must(uuid.NewV7()).String() }

func NewSubjectID() SubjectID         { return SubjectID(newID()) }
func NewReceiptID() ReceiptID         { return ReceiptID(newID()) }
func NewInstallmentID() InstallmentID { return InstallmentID(newID()) }
func NewTransactionID() TransactionID { return TransactionID(newID()) }
func NewAccountID() AccountID         { return AccountID(newID()) }

// =============================================================================
// ACCOUNT RESOLUTION
// =============================================================================

// AccountResolver maps subjects and system roles to ledger accounts.
type AccountResolver interface {
	// ResolveSubject returns the subject's receivable account or a
	// MissingLedgerAccountError.
	ResolveSubject(ctx context.Context, subject Subject) (AccountID, error)

	// ResolveSystem returns the scope's account for role, provisioning it on
	// first use.
	ResolveSystem(ctx context.Context, scope string, role AccountRole) (AccountID, error)
}

// StoreAccountResolver resolves accounts from an AccountStore.
type StoreAccountResolver struct {
	store AccountStore
}

func NewStoreAccountResolver(store AccountStore) *StoreAccountResolver {
	return &StoreAccountResolver{store: store}
}

func (r *StoreAccountResolver) ResolveSubject(ctx context.Context, subject Subject) (AccountID, error) {
	missing := &MissingLedgerAccountError{SubjectID: subject.ID, Scope: subject.Scope, Role: RoleReceivable}
	if subject.AccountID == "" {
		return "", missing
	}
	acct, err := r.store.GetAccount(ctx, subject.AccountID)
	if err != nil {
		return "", fmt.Errorf("load account %s: %w", subject.AccountID, err)
	}
	if acct == nil {
		return "", missing
	}
	return acct.ID, nil
}

func (r *StoreAccountResolver) ResolveSystem(ctx context.Context, scope string, role AccountRole) (AccountID, error) {
	acct, err := r.store.FindSystemAccount(ctx, scope, role)
	if err != nil {
		return "", fmt.Errorf("find %s account: %w", role, err)
	}
	if acct != nil {
		return acct.ID, nil
	}

	created := Account{
		ID:        NewAccountID(),
		Scope:     scope,
		Role:      role,
		Name:      systemAccountName(role),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.SaveAccount(ctx, created); err != nil {
		return "", fmt.Errorf("provision %s account: %w", role, err)
	}
	return created.ID, nil
}

func systemAccountName(role AccountRole) string {
	switch role {
	case RoleCashOnHand:
		return "Cash-in-Hand"
	case RoleBank:
		return "Bank"
	case RoleTuitionIncome:
		return "Tuition Fee"
	}
	return string(role)
}

// NewReceivableAccount builds the receivable account for a subject.
func NewReceivableAccount(subject Subject) Account {
	return Account{
		ID:        NewAccountID(),
		Scope:     subject.Scope,
		Role:      RoleReceivable,
		Name:      subject.Name,
		SubjectID: subject.ID,
		CreatedAt: time.Now().UTC(),
	}
}
