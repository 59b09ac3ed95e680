// Package store provides in-memory fee.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tuition-engine/fee"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	subjects     map[fee.SubjectID]fee.Subject
	accounts     map[fee.AccountID]fee.Account
	installments map[fee.SubjectID][]fee.Installment
	receipts     map[fee.ReceiptID]fee.Receipt
	transactions map[fee.TransactionID]fee.LedgerTransaction
}

func newMemoryData() memoryData {
	return memoryData{
		subjects:     make(map[fee.SubjectID]fee.Subject),
		accounts:     make(map[fee.AccountID]fee.Account),
		installments: make(map[fee.SubjectID][]fee.Installment),
		receipts:     make(map[fee.ReceiptID]fee.Receipt),
		transactions: make(map[fee.TransactionID]fee.LedgerTransaction),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

func (m *Memory) GetSubject(_ context.Context, id fee.SubjectID) (*fee.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getSubject(id), nil
}

func (m *Memory) ListSubjects(_ context.Context, filter fee.SubjectFilter) ([]fee.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listSubjects(filter), nil
}

func (m *Memory) SaveSubject(_ context.Context, s fee.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.subjects[s.ID] = s
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id fee.AccountID) (*fee.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getAccount(id), nil
}

func (m *Memory) FindSystemAccount(_ context.Context, scope string, role fee.AccountRole) (*fee.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.findSystemAccount(scope, role), nil
}

func (m *Memory) SaveAccount(_ context.Context, a fee.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.accounts[a.ID] = a
	return nil
}

func (m *Memory) ListInstallments(_ context.Context, id fee.SubjectID) ([]fee.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listInstallments(id), nil
}

func (m *Memory) ReplaceInstallments(_ context.Context, id fee.SubjectID, installments []fee.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.replaceInstallments(id, installments)
	return nil
}

func (m *Memory) UpdateInstallment(_ context.Context, inst fee.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.updateInstallment(inst)
	return nil
}

func (m *Memory) GetReceipt(_ context.Context, id fee.ReceiptID) (*fee.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getReceipt(id), nil
}

func (m *Memory) ListReceipts(_ context.Context, id fee.SubjectID) ([]fee.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listReceipts(id), nil
}

func (m *Memory) SaveReceipt(_ context.Context, r fee.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.saveReceipt(r)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id fee.TransactionID) (*fee.LedgerTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getTransaction(id), nil
}

func (m *Memory) SaveTransaction(_ context.Context, tx fee.LedgerTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.saveTransaction(tx)
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id fee.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.transactions, id)
	return nil
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemoryData()
	return nil
}

// =============================================================================
// UNLOCKED HELPERS - Shared by Memory and the transactional view
// =============================================================================

func (d memoryData) getSubject(id fee.SubjectID) *fee.Subject {
	s, ok := d.subjects[id]
	if !ok {
		return nil
	}
	return &s
}

func (d memoryData) listSubjects(filter fee.SubjectFilter) []fee.Subject {
	var result []fee.Subject
	for _, s := range d.subjects {
		if filter.Matches(s) {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (d memoryData) getAccount(id fee.AccountID) *fee.Account {
	a, ok := d.accounts[id]
	if !ok {
		return nil
	}
	return &a
}

func (d memoryData) findSystemAccount(scope string, role fee.AccountRole) *fee.Account {
	for _, a := range d.accounts {
		if a.Scope == scope && a.Role == role && a.SubjectID == "" {
			found := a
			return &found
		}
	}
	return nil
}

func (d memoryData) listInstallments(id fee.SubjectID) []fee.Installment {
	result := append([]fee.Installment{}, d.installments[id]...)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result
}

func (d memoryData) replaceInstallments(id fee.SubjectID, installments []fee.Installment) {
	if len(installments) == 0 {
		delete(d.installments, id)
		return
	}
	d.installments[id] = append([]fee.Installment{}, installments...)
}

func (d memoryData) updateInstallment(inst fee.Installment) {
	list := d.installments[inst.SubjectID]
	for i := range list {
		if list[i].ID == inst.ID {
			list[i] = inst
			return
		}
	}
}

func (d memoryData) getReceipt(id fee.ReceiptID) *fee.Receipt {
	r, ok := d.receipts[id]
	if !ok {
		return nil
	}
	r.Lines = append([]fee.PaymentLine{}, r.Lines...)
	return &r
}

func (d memoryData) listReceipts(id fee.SubjectID) []fee.Receipt {
	var result []fee.Receipt
	for _, r := range d.receipts {
		if r.SubjectID == id && r.Active {
			r.Lines = append([]fee.PaymentLine{}, r.Lines...)
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (d memoryData) saveReceipt(r fee.Receipt) {
	r.Lines = append([]fee.PaymentLine{}, r.Lines...)
	d.receipts[r.ID] = r
}

func (d memoryData) getTransaction(id fee.TransactionID) *fee.LedgerTransaction {
	tx, ok := d.transactions[id]
	if !ok {
		return nil
	}
	tx.Entries = append([]fee.LedgerEntry{}, tx.Entries...)
	return &tx
}

func (d memoryData) saveTransaction(tx fee.LedgerTransaction) {
	tx.Entries = append([]fee.LedgerEntry{}, tx.Entries...)
	d.transactions[tx.ID] = tx
}

// clone copies every map and slice so a snapshot cannot alias live state.
func (d memoryData) clone() memoryData {
	c := newMemoryData()
	for k, v := range d.subjects {
		c.subjects[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.installments {
		c.installments[k] = append([]fee.Installment{}, v...)
	}
	for _, v := range d.receipts {
		c.saveReceipt(v)
	}
	for _, v := range d.transactions {
		c.saveTransaction(v)
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The view writes straight into the live maps while the write lock is held.
func (tm *TxMemory) WithTx(_ context.Context, fn func(fee.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()
	if err := fn(&txMemoryView{data: tm.data}); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

// txMemoryView operates on the parent's maps without locking; the parent
// holds its write lock for the view's lifetime.
type txMemoryView struct {
	data memoryData
}

func (v *txMemoryView) GetSubject(_ context.Context, id fee.SubjectID) (*fee.Subject, error) {
	return v.data.getSubject(id), nil
}

func (v *txMemoryView) ListSubjects(_ context.Context, filter fee.SubjectFilter) ([]fee.Subject, error) {
	return v.data.listSubjects(filter), nil
}

func (v *txMemoryView) SaveSubject(_ context.Context, s fee.Subject) error {
	v.data.subjects[s.ID] = s
	return nil
}

func (v *txMemoryView) GetAccount(_ context.Context, id fee.AccountID) (*fee.Account, error) {
	return v.data.getAccount(id), nil
}

func (v *txMemoryView) FindSystemAccount(_ context.Context, scope string, role fee.AccountRole) (*fee.Account, error) {
	return v.data.findSystemAccount(scope, role), nil
}

func (v *txMemoryView) SaveAccount(_ context.Context, a fee.Account) error {
	v.data.accounts[a.ID] = a
	return nil
}

func (v *txMemoryView) ListInstallments(_ context.Context, id fee.SubjectID) ([]fee.Installment, error) {
	return v.data.listInstallments(id), nil
}

func (v *txMemoryView) ReplaceInstallments(_ context.Context, id fee.SubjectID, installments []fee.Installment) error {
	v.data.replaceInstallments(id, installments)
	return nil
}

func (v *txMemoryView) UpdateInstallment(_ context.Context, inst fee.Installment) error {
	v.data.updateInstallment(inst)
	return nil
}

func (v *txMemoryView) GetReceipt(_ context.Context, id fee.ReceiptID) (*fee.Receipt, error) {
	return v.data.getReceipt(id), nil
}

func (v *txMemoryView) ListReceipts(_ context.Context, id fee.SubjectID) ([]fee.Receipt, error) {
	return v.data.listReceipts(id), nil
}

func (v *txMemoryView) SaveReceipt(_ context.Context, r fee.Receipt) error {
	v.data.saveReceipt(r)
	return nil
}

func (v *txMemoryView) GetTransaction(_ context.Context, id fee.TransactionID) (*fee.LedgerTransaction, error) {
	return v.data.getTransaction(id), nil
}

func (v *txMemoryView) SaveTransaction(_ context.Context, tx fee.LedgerTransaction) error {
	v.data.saveTransaction(tx)
	return nil
}

func (v *txMemoryView) DeleteTransaction(_ context.Context, id fee.TransactionID) error {
	delete(v.data.transactions, id)
	return nil
}
