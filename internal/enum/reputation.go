package enum

// ReputationStatus is derived from the score thresholds, never set directly.
type ReputationStatus string

const (
	ReputationStatusGood    ReputationStatus = "good"
	ReputationStatusWarning ReputationStatus = "warning"
	ReputationStatusBad     ReputationStatus = "bad"
)

func (t ReputationStatus) String() string {
	return string(t)
}

// BackoffMultiplier returns the retry-interval multiplier applied when the
// target MX server sits in this reputation tier.
func (t ReputationStatus) BackoffMultiplier() int {
	switch t {
	case ReputationStatusWarning:
		return 2
	case ReputationStatusBad:
		return 4
	default:
		return 1
	}
}
