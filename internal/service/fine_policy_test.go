package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFinePolicyDueDate(t *testing.T) {
	policy := NewFinePolicy(14, "2.00")
	issued := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC), policy.DueDate(issued))
}

func TestFinePolicyFine(t *testing.T) {
	policy := NewFinePolicy(14, "2.00")
	due := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		returned time.Time
		want     string
	}{
		{"on time", due, "0.00"},
		{"early", due.AddDate(0, 0, -3), "0.00"},
		{"one day late", due.AddDate(0, 0, 1), "2.00"},
		{"five days late", due.AddDate(0, 0, 5), "10.00"},
		{"late same calendar day", due.Add(23 * time.Hour), "0.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.Fine(due, tc.returned)
			assert.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestFinePolicyFractionalRate(t *testing.T) {
	policy := NewFinePolicy(7, "1.25")
	due := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	got := policy.Fine(due, due.AddDate(0, 0, 3))
	assert.Equal(t, "3.75", got.StringFixed(2))
}

func TestFinePolicyBadRateDisablesFines(t *testing.T) {
	policy := NewFinePolicy(14, "not-a-number")
	due := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, policy.Fine(due, due.AddDate(0, 0, 10)).IsZero())
}

func TestFinePolicyDefaultPeriod(t *testing.T) {
	policy := NewFinePolicy(0, "2.00")
	assert.Equal(t, 14, policy.PeriodDays())
}
