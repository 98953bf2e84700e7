package rpcstatus

import (
	"time"

	"github.com/status-im/status-connect/healthmanager/provider_errors"
)

// StatusType represents the possible status values for a provider.
type StatusType string

const (
	StatusUnknown StatusType = "unknown"
	StatusUp      StatusType = "up"
	StatusDown    StatusType = "down"
)

// ProviderStatus holds the status information for a single provider.
type ProviderStatus struct {
	Name          string     `json:"name"`
	LastSuccessAt time.Time  `json:"last_success_at"`
	LastErrorAt   time.Time  `json:"last_error_at"`
	LastError     string     `json:"last_error,omitempty"`
	Status        StatusType `json:"status"`
}

// RpcProviderCallStatus represents the result of an RPC provider call.
type RpcProviderCallStatus struct {
	Name      string
	Timestamp time.Time
	Err       error
}

// NewRpcProviderStatus processes RpcProviderCallStatus and returns a new ProviderStatus.
func NewRpcProviderStatus(res RpcProviderCallStatus) ProviderStatus {
	status := ProviderStatus{
		Name: res.Name,
	}

	// Determine if the error is critical
	if res.Err == nil || provider_errors.IsNonCriticalRpcError(res.Err) {
		status.LastSuccessAt = res.Timestamp
		status.Status = StatusUp
	} else {
		status.LastErrorAt = res.Timestamp
		status.LastError = res.Err.Error()
		status.Status = StatusDown
	}

	return status
}

// Merge folds a newer call status into s, keeping the latest success and
// error timestamps.
func (s ProviderStatus) Merge(next ProviderStatus) ProviderStatus {
	merged := next
	if next.LastSuccessAt.IsZero() {
		merged.LastSuccessAt = s.LastSuccessAt
	}
	if next.LastErrorAt.IsZero() {
		merged.LastErrorAt = s.LastErrorAt
		merged.LastError = s.LastError
	}
	return merged
}
