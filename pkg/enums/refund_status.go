package enums

import "fmt"

// RefundStatus tracks the funds-side outcome of a reconciled checkout. A
// checkout whose actions all applied keeps RefundStatusNone.
type RefundStatus string

const (
	RefundStatusNone   RefundStatus = "none"
	RefundStatusIssued RefundStatus = "issued"
	RefundStatusFailed RefundStatus = "failed"
)

var refundStatuses = map[RefundStatus]struct{}{
	RefundStatusNone:   {},
	RefundStatusIssued: {},
	RefundStatusFailed: {},
}

func (r RefundStatus) String() string {
	return string(r)
}

func (r RefundStatus) IsValid() bool {
	_, ok := refundStatuses[r]
	return ok
}

// NeedsRetry reports whether the refund retry job should pick the checkout up.
func (r RefundStatus) NeedsRetry() bool {
	return r == RefundStatusFailed
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	status := RefundStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid refund status %q", value)
	}
	return status, nil
}
