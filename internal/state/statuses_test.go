package state

import (
	"testing"
)

func TestRecordStatus_String(t *testing.T) {
	tests := []struct {
		name     string
		status   RecordStatus
		expected string
	}{
		{
			name:     "Pending status",
			status:   StatusPending,
			expected: "pending",
		},
		{
			name:     "InFlight status",
			status:   StatusInFlight,
			expected: "in_flight",
		},
		{
			name:     "Failed status",
			status:   StatusFailed,
			expected: "failed",
		},
		{
			name:     "Done status",
			status:   StatusDone,
			expected: "done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.status.String()
			if result != tt.expected {
				t.Errorf("String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     RecordStatus
		to       RecordStatus
		expected bool
	}{
		{
			name:     "Valid: Pending to InFlight",
			from:     StatusPending,
			to:       StatusInFlight,
			expected: true,
		},
		{
			name:     "Valid: InFlight to Done",
			from:     StatusInFlight,
			to:       StatusDone,
			expected: true,
		},
		{
			name:     "Valid: InFlight back to Pending",
			from:     StatusInFlight,
			to:       StatusPending,
			expected: true,
		},
		{
			name:     "Valid: InFlight to Failed",
			from:     StatusInFlight,
			to:       StatusFailed,
			expected: true,
		},
		{
			name:     "Valid: Failed to Pending on manual retry",
			from:     StatusFailed,
			to:       StatusPending,
			expected: true,
		},
		{
			name:     "Invalid: Pending to Done",
			from:     StatusPending,
			to:       StatusDone,
			expected: false,
		},
		{
			name:     "Invalid: Done to Pending",
			from:     StatusDone,
			to:       StatusPending,
			expected: false,
		},
		{
			name:     "Invalid: Failed to Done",
			from:     StatusFailed,
			to:       StatusDone,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestRecordStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   RecordStatus
		expected bool
	}{
		{StatusPending, false},
		{StatusInFlight, false},
		{StatusFailed, true},
		{StatusDone, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.expected {
				t.Errorf("Terminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}
