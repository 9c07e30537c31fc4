package task

// Signature is the comparable per-task value used for change detection:
// the fields a single line of the text representation can express.
//
// A stored signature ("shadow") is the last value believed to be
// mutually agreed between the text representation and the cache. It is
// the diff baseline for both local-edit detection and safe
// remote-overwrite decisions, not the current value of either side.
type Signature struct {
	Content     string `json:"content"`
	IsCompleted bool   `json:"is_completed"`
	ProjectID   string `json:"project_id,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// Equal reports whether two signatures match field for field.
func (s Signature) Equal(other Signature) bool {
	return s == other
}

// IsZero reports whether the signature carries no information at all.
func (s Signature) IsZero() bool {
	return s == Signature{}
}
