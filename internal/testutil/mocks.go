package testutil

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/core/invoice"
	"3tcapital/ecfcore/internal/core/signing"
)

// Deduction is one recorded Inventory.Deduct call.
type Deduction struct {
	TenantID  int64
	ProductID int64
	Quantity  decimal.Decimal
	Reason    string
}

// MockInventory records deductions and ignores repeated reasons, like the
// real stock ledger.
type MockInventory struct {
	mu         sync.Mutex
	DeductFunc func(ctx context.Context, tenantID, productID int64, quantity decimal.Decimal, reason string) error
	Deductions []Deduction
	seen       map[string]bool
}

// Deduct calls the mock function if set, then records the call once per reason.
func (m *MockInventory) Deduct(ctx context.Context, tenantID, productID int64, quantity decimal.Decimal, reason string) error {
	if m.DeductFunc != nil {
		if err := m.DeductFunc(ctx, tenantID, productID, quantity, reason); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[reason] {
		return nil
	}
	m.seen[reason] = true
	m.Deductions = append(m.Deductions, Deduction{TenantID: tenantID, ProductID: productID, Quantity: quantity, Reason: reason})
	return nil
}

// Recorded returns a copy of the applied deductions.
func (m *MockInventory) Recorded() []Deduction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Deduction(nil), m.Deductions...)
}

// MockTransmitter is a mock implementation of invoice.Transmitter.
type MockTransmitter struct {
	mu           sync.Mutex
	TransmitFunc func(ctx context.Context, req invoice.TransmitRequest) (string, error)
	Requests     []invoice.TransmitRequest
}

// Transmit calls the mock function if set, otherwise returns a fixed track id.
func (m *MockTransmitter) Transmit(ctx context.Context, req invoice.TransmitRequest) (string, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.TransmitFunc != nil {
		return m.TransmitFunc(ctx, req)
	}
	return "track-" + req.FiscalNumber.String(), nil
}

// MockSigner is a mock implementation of a document signer.
type MockSigner struct {
	SignFunc func(document string, identity *signing.Identity, selector string) (string, error)
}

// Sign calls the mock function if set, otherwise returns the document unchanged.
func (m *MockSigner) Sign(document string, identity *signing.Identity, selector string) (string, error) {
	if m.SignFunc != nil {
		return m.SignFunc(document, identity, selector)
	}
	return document, nil
}

// MockIdentitySource is a mock implementation of an identity lookup.
type MockIdentitySource struct {
	IdentityFunc    func(ctx context.Context, tenantID int64) (*signing.Identity, error)
	InvalidateFunc  func(tenantID int64)
	InvalidateCalls []int64
}

// Identity calls the mock function if set, otherwise returns nil.
func (m *MockIdentitySource) Identity(ctx context.Context, tenantID int64) (*signing.Identity, error) {
	if m.IdentityFunc != nil {
		return m.IdentityFunc(ctx, tenantID)
	}
	return nil, nil
}

// Invalidate records the call and forwards it to the mock function if set.
func (m *MockIdentitySource) Invalidate(tenantID int64) {
	m.InvalidateCalls = append(m.InvalidateCalls, tenantID)
	if m.InvalidateFunc != nil {
		m.InvalidateFunc(tenantID)
	}
}
