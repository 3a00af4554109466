package enum

// SuppressionReason records why an address was suppressed.
type SuppressionReason string

const (
	SuppressionReasonBounce    SuppressionReason = "bounce"
	SuppressionReasonComplaint SuppressionReason = "complaint"
	SuppressionReasonManual    SuppressionReason = "manual"
	SuppressionReasonGlobal    SuppressionReason = "global"
)

func (t SuppressionReason) String() string {
	return string(t)
}

func DecodeSuppressionReason(s string) SuppressionReason {
	switch s {
	case SuppressionReasonBounce.String():
		return SuppressionReasonBounce
	case SuppressionReasonComplaint.String():
		return SuppressionReasonComplaint
	case SuppressionReasonManual.String():
		return SuppressionReasonManual
	case SuppressionReasonGlobal.String():
		return SuppressionReasonGlobal
	default:
		return ""
	}
}
