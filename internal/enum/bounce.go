package enum

// BounceType classifies a transport rejection. Hard bounces suppress the
// recipient; soft bounces and blocks are retryable.
type BounceType string

const (
	BounceTypeNone  BounceType = "none"
	BounceTypeHard  BounceType = "hard"
	BounceTypeSoft  BounceType = "soft"
	BounceTypeBlock BounceType = "block"
)

func (t BounceType) String() string {
	return string(t)
}

func DecodeBounceType(s string) BounceType {
	switch s {
	case BounceTypeHard.String():
		return BounceTypeHard
	case BounceTypeSoft.String():
		return BounceTypeSoft
	case BounceTypeBlock.String():
		return BounceTypeBlock
	default:
		return BounceTypeNone
	}
}
