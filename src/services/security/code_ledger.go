package security

import (
	"errors"
	"sync"
)

// ErrReplayedCode signals that an authorization code was already redeemed.
var ErrReplayedCode = errors.New("authorization code already used")

// CodeLedger records every authorization code ever presented, process-wide
// rather than per user, so a code can never produce a second token exchange
// even when two users' callbacks race on it. A code is burned the moment it
// is seen, regardless of whether its exchange later succeeds.
type CodeLedger struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func NewCodeLedger() *CodeLedger {
	return &CodeLedger{used: make(map[string]struct{})}
}

// MarkUsed atomically records the code and reports whether this caller was
// the first to present it. Exactly one of two racing callers wins.
func (l *CodeLedger) MarkUsed(code string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, seen := l.used[code]; seen {
		return false
	}
	l.used[code] = struct{}{}
	return true
}

// Seen reports whether the code has been presented before, without burning it.
func (l *CodeLedger) Seen(code string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, seen := l.used[code]
	return seen
}
