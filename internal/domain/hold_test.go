package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHoldReasonSerializedForm(t *testing.T) {
	assert.Equal(t, "hedge_leg_failed", ManualHold("hedge_leg_failed").String())
	assert.Equal(t, "AUTO_THROTTLE/max_notional", AutoThrottle("max_notional", "open notional 5000 exceeds 1000").String())
}

func TestParseHoldReasonRoundTrip(t *testing.T) {
	for _, reason := range []HoldReason{
		ManualHold("operator_hold"),
		AutoThrottle("rejection_burst", ""),
	} {
		parsed := ParseHoldReason(reason.String())
		assert.True(t, parsed.Equal(reason), "round trip of %q", reason.String())
		assert.Equal(t, reason.Kind, parsed.Kind)
		assert.Equal(t, reason.Code, parsed.Code)
	}
}

func TestParseHoldReasonDropsDetail(t *testing.T) {
	reason := AutoThrottle("max_positions", "11 open positions exceed 10")
	parsed := ParseHoldReason(reason.String())
	assert.Empty(t, parsed.Detail, "detail is not part of the normalized form")
	assert.True(t, parsed.Equal(reason))
}

func TestHoldReasonEqualIgnoresDetail(t *testing.T) {
	a := AutoThrottle("max_notional", "first breach")
	b := AutoThrottle("max_notional", "second breach")
	assert.True(t, a.Equal(b))

	assert.False(t, a.Equal(AutoThrottle("max_positions", "")))
	assert.False(t, a.Equal(ManualHold("max_notional")), "kind is part of identity")
}

func TestHoldActiveErrorMessage(t *testing.T) {
	err := &HoldActiveError{Reason: AutoThrottle("daemon_failures", "")}
	assert.Equal(t, "hold active: AUTO_THROTTLE/daemon_failures", err.Error())
}
