package embedding

import (
	"sync"
	"time"
)

// BudgetTracker enforces the daily API spend limit. Reservations hold
// headroom between the routing decision and the provider call completing;
// a reservation must be either committed with the actual cost or released,
// otherwise headroom would leak for the rest of the day.
type BudgetTracker struct {
	mu       sync.Mutex
	limitUSD float64

	dateUTC     string
	spentUSD    float64
	reservedUSD float64

	now func() time.Time
}

// Reservation is a claim on budget headroom returned by Reserve
type Reservation struct {
	amountUSD float64
	dateUTC   string
	settled   bool
}

// NewBudgetTracker creates a tracker with the given daily limit
func NewBudgetTracker(dailyLimitUSD float64) *BudgetTracker {
	bt := &BudgetTracker{
		limitUSD: dailyLimitUSD,
		now:      time.Now,
	}
	bt.dateUTC = bt.today()
	return bt
}

// Reserve atomically checks the estimated cost against remaining headroom
// and claims it. Returns nil when the reservation would breach the limit.
func (bt *BudgetTracker) Reserve(estimatedCostUSD float64) *Reservation {
	if estimatedCostUSD < 0 {
		estimatedCostUSD = 0
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.rollover()

	if bt.spentUSD+bt.reservedUSD+estimatedCostUSD > bt.limitUSD {
		return nil
	}
	bt.reservedUSD += estimatedCostUSD
	return &Reservation{
		amountUSD: estimatedCostUSD,
		dateUTC:   bt.dateUTC,
	}
}

// Commit settles a reservation with the actual cost of the call
func (bt *BudgetTracker) Commit(r *Reservation, actualCostUSD float64) {
	if r == nil || r.settled {
		return
	}
	if actualCostUSD < 0 {
		actualCostUSD = 0
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()
	r.settled = true
	bt.rollover()

	// A reservation from yesterday's window no longer holds headroom;
	// the spend still counts against today.
	if r.dateUTC == bt.dateUTC {
		bt.reservedUSD -= r.amountUSD
		if bt.reservedUSD < 0 {
			bt.reservedUSD = 0
		}
	}
	bt.spentUSD += actualCostUSD
}

// Release returns an unsettled reservation's headroom, used when the
// provider call failed before a cost was known
func (bt *BudgetTracker) Release(r *Reservation) {
	if r == nil || r.settled {
		return
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()
	r.settled = true
	bt.rollover()

	if r.dateUTC == bt.dateUTC {
		bt.reservedUSD -= r.amountUSD
		if bt.reservedUSD < 0 {
			bt.reservedUSD = 0
		}
	}
}

// Snapshot returns a point-in-time view of the current window
func (bt *BudgetTracker) Snapshot() BudgetSnapshot {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.rollover()

	remaining := bt.limitUSD - bt.spentUSD - bt.reservedUSD
	if remaining < 0 {
		remaining = 0
	}
	return BudgetSnapshot{
		DateUTC:      bt.dateUTC,
		SpentUSD:     bt.spentUSD,
		ReservedUSD:  bt.reservedUSD,
		LimitUSD:     bt.limitUSD,
		RemainingUSD: remaining,
	}
}

// rollover resets counters at UTC midnight. Caller holds the lock.
func (bt *BudgetTracker) rollover() {
	today := bt.today()
	if today != bt.dateUTC {
		bt.dateUTC = today
		bt.spentUSD = 0
		bt.reservedUSD = 0
	}
}

func (bt *BudgetTracker) today() string {
	return bt.now().UTC().Format("2006-01-02")
}
