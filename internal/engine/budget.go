package engine

import "sync"

// DefaultRetryBudget is the number of consecutive failed requests tolerated
// before the processor halts.
const DefaultRetryBudget = 10

// Observer is notified whenever the retry counter or halt state changes.
// It is called synchronously, outside the budget lock.
type Observer func(retries int, halted bool)

// RetryBudget tracks consecutive request failures across passes.
//
// The counter only goes back to zero on a successful request. Reaching the
// limit halts the budget; Resume lifts the halt but leaves the counter, so a
// resumed processor that fails again halts again immediately.
//
// Thread-safety: RetryBudget is safe for concurrent use.
type RetryBudget struct {
	mu       sync.Mutex
	limit    int
	count    int
	halted   *RetryBudgetError
	observer Observer
}

// NewRetryBudget creates a budget allowing limit consecutive failures.
// A non-positive limit uses DefaultRetryBudget.
func NewRetryBudget(limit int) *RetryBudget {
	if limit <= 0 {
		limit = DefaultRetryBudget
	}
	return &RetryBudget{limit: limit}
}

// Fail counts one failed request. Returns the fatal error once the counter
// reaches the limit.
func (b *RetryBudget) Fail(cause error) *RetryBudgetError {
	b.mu.Lock()
	b.count++
	var fatal *RetryBudgetError
	if b.count >= b.limit {
		fatal = &RetryBudgetError{Tries: b.count, Budget: b.limit, Last: cause}
		b.halted = fatal
	}
	count, halted, obs := b.count, b.halted != nil, b.observer
	b.mu.Unlock()

	if obs != nil {
		obs(count, halted)
	}
	return fatal
}

// Succeed resets the counter.
func (b *RetryBudget) Succeed() {
	b.mu.Lock()
	changed := b.count != 0
	b.count = 0
	halted, obs := b.halted != nil, b.observer
	b.mu.Unlock()

	if changed && obs != nil {
		obs(0, halted)
	}
}

// Resume clears the halt. The counter is left as is.
func (b *RetryBudget) Resume() {
	b.mu.Lock()
	changed := b.halted != nil
	b.halted = nil
	count, obs := b.count, b.observer
	b.mu.Unlock()

	if changed && obs != nil {
		obs(count, false)
	}
}

// Err returns the fatal error while halted, nil otherwise.
func (b *RetryBudget) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halted == nil {
		return nil
	}
	return b.halted
}

// Count returns the current consecutive failure count.
func (b *RetryBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Limit returns the configured limit.
func (b *RetryBudget) Limit() int {
	return b.limit
}

// Halted reports whether the budget has run out and not been resumed.
func (b *RetryBudget) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted != nil
}

func (b *RetryBudget) setObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}
