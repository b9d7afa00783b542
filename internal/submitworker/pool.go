package submitworker

import "sync"

// Pool manages a fixed number of submission slots
type Pool struct {
	maxSlots       int
	available      int
	mu             sync.Mutex
	onSlotsChanged func(available int) // Callback when slots change
}

// NewPool creates a pool with the given capacity
func NewPool(maxSlots int) *Pool {
	return &Pool{
		maxSlots:  maxSlots,
		available: maxSlots,
	}
}

// SetOnSlotsChanged sets a callback to be invoked when slot availability changes
func (p *Pool) SetOnSlotsChanged(callback func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire tries to claim a submission slot. Returns true if successful.
func (p *Pool) Acquire() bool {
	p.mu.Lock()
	if p.available <= 0 {
		p.mu.Unlock()
		return false
	}
	p.available--
	callback := p.onSlotsChanged
	available := p.available
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(available)
	}
	return true
}

// Release returns a submission slot to the pool.
func (p *Pool) Release() {
	p.mu.Lock()
	if p.available < p.maxSlots {
		p.available++
	}
	callback := p.onSlotsChanged
	available := p.available
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(available)
	}
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// MaxSlots returns the pool capacity.
func (p *Pool) MaxSlots() int {
	return p.maxSlots
}
