package core

// Cycle statuses, in the only order a cycle moves through them.
const (
	CycleCreated     = "created"
	CycleDispatched  = "dispatched"
	CycleAggregating = "aggregating"
	CyclePersisted   = "persisted"
)

// Per-check statuses within a cycle.
const (
	CheckRunning = "running"
	CheckDone    = "done"
	CheckFailed  = "failed"
)

// CheckCycle is one run of every configured check plus aggregation.
type CheckCycle struct {
	ID          string            `json:"id"`
	Stamp       int64             `json:"stamp"`
	Checks      []string          `json:"checks"`
	Status      string            `json:"status"`
	CheckStatus map[string]string `json:"check_status,omitempty"`
	Completed   int               `json:"completed"`
	Failed      int               `json:"failed"`
	ResultCount int               `json:"result_count"`
	CreatedAt   string            `json:"created_at"`
	PersistedAt string            `json:"persisted_at,omitempty"`
}

// Job types and queues.
const (
	QueueTasks   = "tasks"
	QueueRefills = "refills"

	JobCheckBalances = "check-balances"
)

// Refill kinds, one job type each.
const (
	RefillNative  = "refill-native"
	RefillToken   = "refill-token"
	RefillAsset   = "refill-asset"
	RefillCredits = "refill-credits"
)

// RefillKinds lists every supported refill job type.
var RefillKinds = []string{RefillNative, RefillToken, RefillAsset, RefillCredits}

// IsRefillKind reports whether kind names a supported refill job type.
func IsRefillKind(kind string) bool {
	for _, k := range RefillKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RefillArgs is the payload of a refill job.
type RefillArgs struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}
