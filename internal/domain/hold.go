package domain

import (
	"fmt"
	"strings"
	"time"
)

// HoldKind distinguishes automatically engaged holds from operator holds.
type HoldKind string

const (
	HoldKindManual       HoldKind = "MANUAL"
	HoldKindAutoThrottle HoldKind = "AUTO_THROTTLE"
)

// autoThrottlePrefix namespaces auto-throttle reasons in their serialized
// form, e.g. "AUTO_THROTTLE/partial_hedge_stale". Manual reasons serialize
// as the bare code for backward compatibility with older alert consumers.
const autoThrottlePrefix = "AUTO_THROTTLE/"

// HoldReason identifies why the global trading hold is (or was) engaged.
// Detail carries free-form context and is not part of the normalized form.
type HoldReason struct {
	Kind   HoldKind
	Code   string
	Detail string
}

// ManualHold builds an operator or engine engaged hold reason.
func ManualHold(code string) HoldReason {
	return HoldReason{Kind: HoldKindManual, Code: code}
}

// AutoThrottle builds a risk-guard engaged hold reason.
func AutoThrottle(code, detail string) HoldReason {
	return HoldReason{Kind: HoldKindAutoThrottle, Code: code, Detail: detail}
}

// String returns the stable serialized form of the reason.
func (r HoldReason) String() string {
	if r.Kind == HoldKindAutoThrottle {
		return autoThrottlePrefix + r.Code
	}
	return r.Code
}

// IsAutoThrottle reports whether the hold was engaged by the risk guard.
func (r HoldReason) IsAutoThrottle() bool { return r.Kind == HoldKindAutoThrottle }

// Equal compares the normalized forms (kind + code); Detail is ignored.
func (r HoldReason) Equal(other HoldReason) bool {
	return r.Kind == other.Kind && r.Code == other.Code
}

// ParseHoldReason reconstructs a HoldReason from its serialized form.
func ParseHoldReason(s string) HoldReason {
	if code, ok := strings.CutPrefix(s, autoThrottlePrefix); ok {
		return HoldReason{Kind: HoldKindAutoThrottle, Code: code}
	}
	return HoldReason{Kind: HoldKindManual, Code: s}
}

// HoldState is the global trading halt flag and its provenance.
type HoldState struct {
	Active    bool
	Reason    HoldReason
	Source    string
	EngagedAt time.Time
}

// ResumeRequestStatus tracks the lifecycle of a resume request.
type ResumeRequestStatus string

const (
	ResumePending  ResumeRequestStatus = "pending"
	ResumeApproved ResumeRequestStatus = "approved"
)

// ResumeRequest is a request to clear the hold. Approval must come from a
// second, distinct operator identity (two-man rule) before the hold clears.
type ResumeRequest struct {
	ID          string
	HoldReason  HoldReason
	RequestedBy string
	ApprovedBy  string
	Status      ResumeRequestStatus
	RequestedAt time.Time
	ApprovedAt  *time.Time
}

// HoldActiveError is returned when an action is attempted while the global
// hold is engaged. Callers detect it with errors.As to distinguish a halt
// from a generic failure and preserve partial state accordingly.
type HoldActiveError struct {
	Reason HoldReason
}

func (e *HoldActiveError) Error() string {
	return fmt.Sprintf("hold active: %s", e.Reason)
}
