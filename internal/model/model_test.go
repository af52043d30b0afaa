package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanPaymentTransitionTo(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{PaymentStatusPending, PaymentStatusCompleted, true},
		{PaymentStatusPending, PaymentStatusReady, true},
		{PaymentStatusReady, PaymentStatusVbankReady, true},
		{PaymentStatusApprovalAPIFailed, PaymentStatusApprovalAPIFailed, true},
		{PaymentStatusApprovalAPIFailed, PaymentStatusReady, false},
		{PaymentStatusVbankReady, PaymentStatusCompleted, true},
		{PaymentStatusVbankReady, PaymentStatusVbankExpired, true},
		{PaymentStatusVbankReady, PaymentStatusFailed, false},
		{PaymentStatusCompleted, PaymentStatusCancelled, true},
		{PaymentStatusCompleted, PaymentStatusFailed, false},
		{PaymentStatusCompleted, PaymentStatusAuthSignatureMismatch, false},
		{PaymentStatusFailed, PaymentStatusCompleted, false},
		{PaymentStatusCancelled, PaymentStatusCompleted, false},
		{PaymentStatusVbankExpired, PaymentStatusCompleted, false},
		{PaymentStatusAuthSignatureMismatch, PaymentStatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanPaymentTransitionTo(tt.from, tt.to))
		})
	}
}

func TestIsPaymentSettled(t *testing.T) {
	assert.True(t, IsPaymentSettled(PaymentStatusCompleted))
	assert.True(t, IsPaymentSettled(PaymentStatusAuthSignatureMismatch))
	assert.False(t, IsPaymentSettled(PaymentStatusVbankReady))
	assert.False(t, IsPaymentSettled(PaymentStatusApprovalAPIFailed))
}

func TestDeliveryTransitions(t *testing.T) {
	assert.True(t, CanDeliveryTransitionTo(DeliveryStatusPending, DeliveryStatusComplete))
	assert.True(t, CanDeliveryTransitionTo(DeliveryStatusPending, DeliveryStatusCancel))
	assert.False(t, CanDeliveryTransitionTo(DeliveryStatusComplete, DeliveryStatusCancel))
	assert.False(t, CanDeliveryTransitionTo(DeliveryStatusCancel, DeliveryStatusPending))
	assert.False(t, IsDeliveryStatus("shipped"))
}

func TestParseWeekdays(t *testing.T) {
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, ParseWeekdays("1, 3,5"))
	assert.Equal(t, []time.Weekday{time.Sunday}, ParseWeekdays("0,7,x"))
	assert.Empty(t, ParseWeekdays(""))
}

func TestRequestedDateList(t *testing.T) {
	p := &Payment{}
	assert.Nil(t, p.RequestedDateList())

	p.RequestedDates = "2025-03-04,2025-03-05"
	assert.Equal(t, []string{"2025-03-04", "2025-03-05"}, p.RequestedDateList())
}

func TestParseDate(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	d, err := ParseDate("2025-03-04", loc)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-04", FormatDate(d))
	assert.Equal(t, time.Tuesday, d.Weekday())

	_, err = ParseDate("2025/03/04", loc)
	assert.Error(t, err)
}

func TestNewOutboxMessage(t *testing.T) {
	msg, err := NewOutboxMessage("payment-event", EventPaymentSettled, "ORDER-1", map[string]interface{}{"order_id": "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusPending, msg.Status)
	assert.Equal(t, EventPaymentSettled, msg.EventType)
	assert.JSONEq(t, `{"order_id":"ORDER-1","event_type":"payment.settled"}`, msg.Payload)
}
