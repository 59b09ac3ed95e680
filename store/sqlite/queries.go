package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/tuition-engine/fee"
)

// queries holds the SQL for every fee.Store method. It does no locking; the
// caller decides whether db is the pool or an open transaction.
type queries struct {
	db querier
}

// =============================================================================
// SUBJECTS
// =============================================================================

const subjectColumns = `id, name, scope, account_id, course_fee, discount, admission_fee,
	fee_type, installment_type, custom_months, start_date, admission_fee_method,
	active, created_at, updated_at`

func (q queries) getSubject(ctx context.Context, id fee.SubjectID) (*fee.Subject, error) {
	subjects, err := q.querySubjects(ctx, "SELECT "+subjectColumns+" FROM subjects WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		return nil, nil
	}
	return &subjects[0], nil
}

func (q queries) listSubjects(ctx context.Context, filter fee.SubjectFilter) ([]fee.Subject, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "active = 1")
	}
	if filter.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, filter.Scope)
	}
	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT " + subjectColumns + " FROM subjects"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	return q.querySubjects(ctx, query, args...)
}

func (q queries) saveSubject(ctx context.Context, s fee.Subject) error {
	p := s.Pricing
	var courseFee sql.NullString
	if p.CourseFee != nil {
		courseFee = sql.NullString{String: p.CourseFee.String(), Valid: true}
	}
	var startDate sql.NullString
	if !p.StartDate.IsZero() {
		startDate = sql.NullString{String: fee.FormatDate(p.StartDate), Valid: true}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO subjects (`+subjectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			scope = excluded.scope,
			account_id = excluded.account_id,
			course_fee = excluded.course_fee,
			discount = excluded.discount,
			admission_fee = excluded.admission_fee,
			fee_type = excluded.fee_type,
			installment_type = excluded.installment_type,
			custom_months = excluded.custom_months,
			start_date = excluded.start_date,
			admission_fee_method = excluded.admission_fee_method,
			active = excluded.active,
			updated_at = excluded.updated_at
	`,
		s.ID, s.Name, s.Scope, nullString(string(s.AccountID)),
		courseFee, p.Discount.String(), p.AdmissionFee.String(),
		string(p.FeeType), string(p.InstallmentType), p.CustomMonths, startDate,
		string(p.AdmissionFeeMethod), boolInt(s.Active),
		formatTimestamp(s.CreatedAt), formatTimestamp(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save subject: %w", err)
	}
	return nil
}

func (q queries) querySubjects(ctx context.Context, query string, args ...any) ([]fee.Subject, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []fee.Subject
	for rows.Next() {
		var (
			s                      fee.Subject
			accountID, courseFee   sql.NullString
			startDate              sql.NullString
			discount, admissionFee string
			feeType, instType      string
			method                 string
			active                 int
			createdAt, updatedAt   string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Scope, &accountID, &courseFee, &discount, &admissionFee,
			&feeType, &instType, &s.Pricing.CustomMonths, &startDate, &method,
			&active, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}

		s.AccountID = fee.AccountID(accountID.String)
		if courseFee.Valid {
			m, err := fee.NewMoney(courseFee.String)
			if err != nil {
				return nil, fmt.Errorf("subject %s course_fee: %w", s.ID, err)
			}
			s.Pricing.CourseFee = &m
		}
		if s.Pricing.Discount, err = fee.NewMoney(discount); err != nil {
			return nil, fmt.Errorf("subject %s discount: %w", s.ID, err)
		}
		if s.Pricing.AdmissionFee, err = fee.NewMoney(admissionFee); err != nil {
			return nil, fmt.Errorf("subject %s admission_fee: %w", s.ID, err)
		}
		start, err := parseNullDate(startDate)
		if err != nil {
			return nil, fmt.Errorf("subject %s start_date: %w", s.ID, err)
		}
		if start != nil {
			s.Pricing.StartDate = *start
		}
		s.Pricing.FeeType = fee.FeeType(feeType)
		s.Pricing.InstallmentType = fee.InstallmentType(instType)
		s.Pricing.AdmissionFeeMethod = fee.PaymentMethod(method)
		s.Active = active == 1
		s.CreatedAt = parseTimestamp(createdAt)
		s.UpdatedAt = parseTimestamp(updatedAt)
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (q queries) getAccount(ctx context.Context, id fee.AccountID) (*fee.Account, error) {
	return q.queryAccount(ctx, `
		SELECT id, scope, role, name, subject_id, created_at
		FROM accounts WHERE id = ?
	`, id)
}

func (q queries) findSystemAccount(ctx context.Context, scope string, role fee.AccountRole) (*fee.Account, error) {
	return q.queryAccount(ctx, `
		SELECT id, scope, role, name, subject_id, created_at
		FROM accounts WHERE scope = ? AND role = ? AND subject_id IS NULL
	`, scope, string(role))
}

func (q queries) queryAccount(ctx context.Context, query string, args ...any) (*fee.Account, error) {
	var (
		a         fee.Account
		subjectID sql.NullString
		createdAt string
	)
	err := q.db.QueryRowContext(ctx, query, args...).
		Scan(&a.ID, &a.Scope, &a.Role, &a.Name, &subjectID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.SubjectID = fee.SubjectID(subjectID.String)
	a.CreatedAt = parseTimestamp(createdAt)
	return &a, nil
}

func (q queries) saveAccount(ctx context.Context, a fee.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (id, scope, role, name, subject_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, a.ID, a.Scope, string(a.Role), a.Name, nullString(string(a.SubjectID)), formatTimestamp(a.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s account for scope %q already exists: %w", a.Role, a.Scope, err)
		}
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (q queries) listInstallments(ctx context.Context, id fee.SubjectID) ([]fee.Installment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, subject_id, sequence, name, amount, paid_amount, due_date, payment_date,
		       paid, transaction_id, created_at
		FROM installments
		WHERE subject_id = ?
		ORDER BY sequence
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var installments []fee.Installment
	for rows.Next() {
		var (
			inst                 fee.Installment
			amount, paidAmount   string
			dueDate, paymentDate sql.NullString
			paid                 int
			txID                 sql.NullString
			createdAt            string
		)
		if err := rows.Scan(&inst.ID, &inst.SubjectID, &inst.Sequence, &inst.Name, &amount, &paidAmount,
			&dueDate, &paymentDate, &paid, &txID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		if inst.Amount, err = fee.NewMoney(amount); err != nil {
			return nil, fmt.Errorf("installment %s amount: %w", inst.ID, err)
		}
		if inst.PaidAmount, err = fee.NewMoney(paidAmount); err != nil {
			return nil, fmt.Errorf("installment %s paid_amount: %w", inst.ID, err)
		}
		if inst.DueDate, err = parseNullDate(dueDate); err != nil {
			return nil, fmt.Errorf("installment %s due_date: %w", inst.ID, err)
		}
		if inst.PaymentDate, err = parseNullDate(paymentDate); err != nil {
			return nil, fmt.Errorf("installment %s payment_date: %w", inst.ID, err)
		}
		inst.Paid = paid == 1
		inst.TransactionID = fee.TransactionID(txID.String)
		inst.CreatedAt = parseTimestamp(createdAt)
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func (q queries) replaceInstallments(ctx context.Context, id fee.SubjectID, installments []fee.Installment) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM installments WHERE subject_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete installments: %w", err)
	}
	for _, inst := range installments {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO installments
			(id, subject_id, sequence, name, amount, paid_amount, due_date, payment_date,
			 paid, transaction_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			inst.ID, id, inst.Sequence, inst.Name, inst.Amount.String(), inst.PaidAmount.String(),
			nullDate(inst.DueDate), nullDate(inst.PaymentDate), boolInt(inst.Paid),
			nullString(string(inst.TransactionID)), formatTimestamp(inst.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Sequence, err)
		}
	}
	return nil
}

func (q queries) updateInstallment(ctx context.Context, inst fee.Installment) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE installments
		SET name = ?, amount = ?, paid_amount = ?, due_date = ?, payment_date = ?,
		    paid = ?, transaction_id = ?
		WHERE id = ?
	`,
		inst.Name, inst.Amount.String(), inst.PaidAmount.String(),
		nullDate(inst.DueDate), nullDate(inst.PaymentDate), boolInt(inst.Paid),
		nullString(string(inst.TransactionID)), inst.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	return nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

const receiptColumns = `id, subject_id, number, date, kind, note, transaction_id, active, created_at`

func (q queries) getReceipt(ctx context.Context, id fee.ReceiptID) (*fee.Receipt, error) {
	receipts, err := q.queryReceipts(ctx, "SELECT "+receiptColumns+" FROM receipts WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, nil
	}
	return &receipts[0], nil
}

func (q queries) listReceipts(ctx context.Context, id fee.SubjectID) ([]fee.Receipt, error) {
	return q.queryReceipts(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE subject_id = ? AND active = 1
		ORDER BY date, id
	`, id)
}

// queryReceipts loads headers first and lines afterwards so that no two
// result sets are open on the connection at once.
func (q queries) queryReceipts(ctx context.Context, query string, args ...any) ([]fee.Receipt, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}

	var receipts []fee.Receipt
	for rows.Next() {
		var (
			r         fee.Receipt
			date      string
			txID      sql.NullString
			active    int
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.Number, &date, &r.Kind, &r.Note,
			&txID, &active, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		if r.Date, err = fee.ParseDate(date); err != nil {
			rows.Close()
			return nil, fmt.Errorf("receipt %s date: %w", r.ID, err)
		}
		r.TransactionID = fee.TransactionID(txID.String)
		r.Active = active == 1
		r.CreatedAt = parseTimestamp(createdAt)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range receipts {
		lines, err := q.receiptLines(ctx, receipts[i].ID)
		if err != nil {
			return nil, err
		}
		receipts[i].Lines = lines
	}
	return receipts, nil
}

func (q queries) receiptLines(ctx context.Context, id fee.ReceiptID) ([]fee.PaymentLine, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT method, amount, note FROM receipt_lines
		WHERE receipt_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt lines: %w", err)
	}
	defer rows.Close()

	var lines []fee.PaymentLine
	for rows.Next() {
		var (
			l      fee.PaymentLine
			amount string
		)
		if err := rows.Scan(&l.Method, &amount, &l.Note); err != nil {
			return nil, fmt.Errorf("failed to scan receipt line: %w", err)
		}
		if l.Amount, err = fee.NewMoney(amount); err != nil {
			return nil, fmt.Errorf("receipt %s line amount: %w", id, err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (q queries) saveReceipt(ctx context.Context, r fee.Receipt) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			date = excluded.date,
			kind = excluded.kind,
			note = excluded.note,
			transaction_id = excluded.transaction_id,
			active = excluded.active
	`,
		r.ID, r.SubjectID, r.Number, fee.FormatDate(r.Date), string(r.Kind), r.Note,
		nullString(string(r.TransactionID)), boolInt(r.Active), formatTimestamp(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, "DELETE FROM receipt_lines WHERE receipt_id = ?", r.ID); err != nil {
		return fmt.Errorf("failed to clear receipt lines: %w", err)
	}
	for i, l := range r.Lines {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO receipt_lines (receipt_id, position, method, amount, note)
			VALUES (?, ?, ?, ?, ?)
		`, r.ID, i+1, string(l.Method), l.Amount.String(), l.Note)
		if err != nil {
			return fmt.Errorf("failed to insert receipt line %d: %w", i+1, err)
		}
	}
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (q queries) getTransaction(ctx context.Context, id fee.TransactionID) (*fee.LedgerTransaction, error) {
	var (
		tx                       fee.LedgerTransaction
		date                     string
		total, received, balance string
		createdAt, updatedAt     string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, tx_type, date, scope, subject_id, voucher, narration, status,
		       total_amount, received_amount, balance_amount, created_at, updated_at
		FROM ledger_transactions WHERE id = ?
	`, id).Scan(&tx.ID, &tx.Type, &date, &tx.Scope, &tx.SubjectID, &tx.Voucher, &tx.Narration, &tx.Status,
		&total, &received, &balance, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if tx.Date, err = fee.ParseDate(date); err != nil {
		return nil, fmt.Errorf("transaction %s date: %w", id, err)
	}
	if tx.TotalAmount, err = fee.NewMoney(total); err != nil {
		return nil, fmt.Errorf("transaction %s total: %w", id, err)
	}
	if tx.ReceivedAmount, err = fee.NewMoney(received); err != nil {
		return nil, fmt.Errorf("transaction %s received: %w", id, err)
	}
	if tx.BalanceAmount, err = fee.NewMoney(balance); err != nil {
		return nil, fmt.Errorf("transaction %s balance: %w", id, err)
	}
	tx.CreatedAt = parseTimestamp(createdAt)
	tx.UpdatedAt = parseTimestamp(updatedAt)

	tx.Entries, err = q.listEntries(ctx, `
		SELECT id, transaction_id, account_id, debit, credit, description
		FROM ledger_entries WHERE transaction_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (q queries) listEntries(ctx context.Context, query string, args ...any) ([]fee.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []fee.LedgerEntry
	for rows.Next() {
		var (
			e             fee.LedgerEntry
			debit, credit string
		)
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &debit, &credit, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if e.Debit, err = fee.NewMoney(debit); err != nil {
			return nil, fmt.Errorf("entry %s debit: %w", e.ID, err)
		}
		if e.Credit, err = fee.NewMoney(credit); err != nil {
			return nil, fmt.Errorf("entry %s credit: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q queries) saveTransaction(ctx context.Context, tx fee.LedgerTransaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions
		(id, tx_type, date, scope, subject_id, voucher, narration, status,
		 total_amount, received_amount, balance_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			voucher = excluded.voucher,
			narration = excluded.narration,
			status = excluded.status,
			total_amount = excluded.total_amount,
			received_amount = excluded.received_amount,
			balance_amount = excluded.balance_amount,
			updated_at = excluded.updated_at
	`,
		tx.ID, string(tx.Type), fee.FormatDate(tx.Date), tx.Scope, tx.SubjectID, tx.Voucher,
		tx.Narration, tx.Status, tx.TotalAmount.String(), tx.ReceivedAmount.String(),
		tx.BalanceAmount.String(), formatTimestamp(tx.CreatedAt), formatTimestamp(tx.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, "DELETE FROM ledger_entries WHERE transaction_id = ?", tx.ID); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	for i, e := range tx.Entries {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, transaction_id, position, account_id, debit, credit, description)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.ID, tx.ID, i+1, e.AccountID, e.Debit.String(), e.Credit.String(), e.Description)
		if err != nil {
			return fmt.Errorf("failed to insert entry %d: %w", i+1, err)
		}
	}
	return nil
}

func (q queries) deleteTransaction(ctx context.Context, id fee.TransactionID) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM ledger_entries WHERE transaction_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, "DELETE FROM ledger_transactions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}
