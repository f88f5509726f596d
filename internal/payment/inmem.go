package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InMemCardProcessor is a deterministic card processor used in
// development mode and tests. Charges live in memory; captures above
// the per-charge limit are declined, which exercises the ceiling path.
type InMemCardProcessor struct {
	mu      sync.Mutex
	charges map[string]*inMemCharge

	// CaptureLimit declines any capture above it when non-zero.
	CaptureLimit int64
	// FailAll declines every operation when true.
	FailAll bool
}

type inMemCharge struct {
	token      string
	authorized int64
	captured   int64
	refunded   bool
}

// NewInMemCardProcessor creates an empty in-memory card processor.
func NewInMemCardProcessor() *InMemCardProcessor {
	return &InMemCardProcessor{charges: make(map[string]*inMemCharge)}
}

func (p *InMemCardProcessor) CreateCharge(ctx context.Context, token string, amountCents int64, capture bool, description string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailAll {
		return "", fmt.Errorf("card declined")
	}
	id := "ch_" + uuid.New().String()[:8]
	c := &inMemCharge{token: token, authorized: amountCents}
	if capture {
		c.captured = amountCents
	}
	p.charges[id] = c
	return id, nil
}

func (p *InMemCardProcessor) CaptureCharge(ctx context.Context, chargeID string, amountCents int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailAll {
		return "", fmt.Errorf("card declined")
	}
	c, ok := p.charges[chargeID]
	if !ok {
		return "", fmt.Errorf("unknown charge: %s", chargeID)
	}
	if amountCents > c.authorized {
		return "", fmt.Errorf("capture exceeds authorization")
	}
	if p.CaptureLimit > 0 && amountCents > p.CaptureLimit {
		return "", fmt.Errorf("capture declined: amount over limit")
	}
	c.captured = amountCents
	return chargeID, nil
}

func (p *InMemCardProcessor) RefundCharge(ctx context.Context, chargeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.charges[chargeID]
	if !ok {
		return fmt.Errorf("unknown charge: %s", chargeID)
	}
	c.refunded = true
	return nil
}

// Captured returns the amount captured for a charge. Test helper.
func (p *InMemCardProcessor) Captured(chargeID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.charges[chargeID]; ok {
		return c.captured
	}
	return 0
}

// OutstandingCents sums authorized money not yet captured or refunded
// across all charges. Test helper.
func (p *InMemCardProcessor) OutstandingCents() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total int64
	for _, c := range p.charges {
		if c.refunded {
			continue
		}
		total += c.authorized - c.captured
	}
	return total
}

// Refunded reports whether a charge was refunded. Test helper.
func (p *InMemCardProcessor) Refunded(chargeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.charges[chargeID]; ok {
		return c.refunded
	}
	return false
}

// InMemWalletProcessor is the wallet counterpart of InMemCardProcessor.
type InMemWalletProcessor struct {
	mu    sync.Mutex
	auths map[string]*inMemAuth

	FailAll bool
}

type inMemAuth struct {
	authorized int64
	captured   int64
	voided     bool
}

// NewInMemWalletProcessor creates an empty in-memory wallet processor.
func NewInMemWalletProcessor() *InMemWalletProcessor {
	return &InMemWalletProcessor{auths: make(map[string]*inMemAuth)}
}

func (p *InMemWalletProcessor) CreateAuthorization(ctx context.Context, token string, amountCents int64, description string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailAll {
		return "", fmt.Errorf("wallet declined")
	}
	ref := "pp_" + uuid.New().String()[:8]
	p.auths[ref] = &inMemAuth{authorized: amountCents}
	return ref, nil
}

func (p *InMemWalletProcessor) ProceedCharge(ctx context.Context, ref string, amountCents *int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailAll {
		return "", fmt.Errorf("wallet declined")
	}
	a, ok := p.auths[ref]
	if !ok {
		return "", fmt.Errorf("unknown authorization: %s", ref)
	}
	if amountCents == nil {
		a.voided = true
		return ref, nil
	}
	a.captured = *amountCents
	return ref, nil
}

// Captured returns the amount captured for an authorization. Test helper.
func (p *InMemWalletProcessor) Captured(ref string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.auths[ref]; ok {
		return a.captured
	}
	return 0
}

// Voided reports whether an authorization was voided. Test helper.
func (p *InMemWalletProcessor) Voided(ref string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.auths[ref]; ok {
		return a.voided
	}
	return false
}
