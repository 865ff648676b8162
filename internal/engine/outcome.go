package engine

import (
	"fmt"

	"github.com/shpitdev/leadsync/internal/fingerprint"
	"github.com/shpitdev/leadsync/internal/guardian"
	"github.com/shpitdev/leadsync/internal/store"
)

// Kind discriminates an Outcome.
type Kind int

const (
	Processed Kind = iota + 1
	Skipped
	Failed
)

func (k Kind) String() string {
	switch k {
	case Processed:
		return "processed"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SkipReason says why an item was not analyzed or not written.
type SkipReason string

const (
	SkipDuplicatePreCheck SkipReason = "duplicate-phase1"
	SkipDuplicateRecheck  SkipReason = "duplicate-phase2"
	SkipInvalidURL        SkipReason = "invalid-url"
)

// Outcome is the disposition of one work item. Only Processed items count
// against the daily quota.
type Outcome struct {
	Kind Kind
	Item store.WorkItem
	Key  fingerprint.Key

	// Reason is set for Skipped.
	Reason SkipReason
	// Err is set for Failed. A *guardian.VerificationError means the item was
	// left in the processing state for an operator.
	Err error
	// Verification is set for Processed items that carry a fingerprint.
	Verification guardian.Verification
}

func (o Outcome) String() string {
	switch o.Kind {
	case Skipped:
		return fmt.Sprintf("skipped(%s) row=%d", o.Reason, o.Item.Row)
	case Failed:
		return fmt.Sprintf("failed row=%d: %v", o.Item.Row, o.Err)
	default:
		return fmt.Sprintf("%s row=%d", o.Kind, o.Item.Row)
	}
}
