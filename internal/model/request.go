package model

// SyncMode selects how much history a request fetches.
type SyncMode int

const (
	// Full re-fetches the whole configured history window.
	Full SyncMode = iota
	// Incremental fetches only the days since the last cached bar.
	Incremental
)

func (m SyncMode) String() string {
	switch m {
	case Full:
		return "full"
	case Incremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// PendingRequest is a historical-data request that has been dispatched to the
// session and not yet completed or failed.
type PendingRequest struct {
	RequestID int64    `json:"request_id"`
	Ticker    string   `json:"ticker"`
	Mode      SyncMode `json:"mode"`
}
