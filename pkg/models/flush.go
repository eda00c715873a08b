package models

// FlushResult is the outcome of one committed consolidation batch.
// EventID is empty when the flush produced no delta (a no-op flush).
type FlushResult struct {
	EventID    string   `json:"event_id,omitempty"`
	AddedIDs   []string `json:"add_profiles,omitempty"`
	UpdatedIDs []string `json:"update_profiles,omitempty"`
	DeletedIDs []string `json:"delete_profiles,omitempty"`
}

// IsNoOp reports whether the flush committed nothing.
func (r *FlushResult) IsNoOp() bool {
	return r == nil || (r.EventID == "" &&
		len(r.AddedIDs) == 0 && len(r.UpdatedIDs) == 0 && len(r.DeletedIDs) == 0)
}
