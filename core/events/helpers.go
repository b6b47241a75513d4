package events

import (
	"math/big"
	"strings"
)

func normalizeReason(reason string) string {
	return strings.ToLower(strings.TrimSpace(reason))
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func zeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
