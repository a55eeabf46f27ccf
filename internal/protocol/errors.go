package protocol

// ConnectionRefused reasons.
const (
	ErrInvalidSlot          = "InvalidSlot"
	ErrInvalidGame          = "InvalidGame"
	ErrIncompatibleVersion  = "IncompatibleVersion"
	ErrInvalidPassword      = "InvalidPassword"
	ErrInvalidItemsHandling = "InvalidItemsHandling"
)

var knownCodes = map[string]struct{}{
	ErrInvalidSlot:          {},
	ErrInvalidGame:          {},
	ErrIncompatibleVersion:  {},
	ErrInvalidPassword:      {},
	ErrInvalidItemsHandling: {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Retryable reports whether reconnecting can fix a refusal. A wrong slot,
// game or password will not change on its own.
func Retryable(codes []string) bool {
	for _, c := range codes {
		switch c {
		case ErrInvalidSlot, ErrInvalidGame, ErrInvalidPassword, ErrIncompatibleVersion:
			return false
		}
	}
	return true
}
