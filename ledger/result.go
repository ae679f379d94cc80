package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// BATCH RESULT - Partial success is expected and reported, never swallowed
// =============================================================================

// Outcome explains why one member was skipped or failed in a bulk operation.
type Outcome struct {
	MemberID MemberID `json:"member_id"`
	Reason   string   `json:"reason"`
}

// BatchResult is the structured result of a bulk operation. Business-rule
// denials (duplicate due, cap exceeded) land in Skipped; persistence errors
// land in Failed with the batch isolated; Created lists what committed.
type BatchResult struct {
	Created []MemberID `json:"created"`
	Skipped []Outcome  `json:"skipped"`
	Failed  []Outcome  `json:"failed"`
}

func (r *BatchResult) AddCreated(m MemberID) {
	r.Created = append(r.Created, m)
}

func (r *BatchResult) AddSkipped(m MemberID, reason string) {
	r.Skipped = append(r.Skipped, Outcome{MemberID: m, Reason: reason})
}

func (r *BatchResult) AddFailed(m MemberID, reason string) {
	r.Failed = append(r.Failed, Outcome{MemberID: m, Reason: reason})
}

func (r *BatchResult) CreatedCount() int { return len(r.Created) }
func (r *BatchResult) SkippedCount() int { return len(r.Skipped) }
func (r *BatchResult) FailedCount() int  { return len(r.Failed) }

// BulkPaymentResult extends BatchResult with the total amount recorded.
type BulkPaymentResult struct {
	BatchResult
	TotalAmount decimal.Decimal `json:"total_amount"`
}
