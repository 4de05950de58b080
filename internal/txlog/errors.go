package txlog

import "fmt"

// ConcurrencyError reports an optimistic-commit conflict: another
// writer committed the version this writer targeted. Always retryable
// per §7.
type ConcurrencyError struct {
	Path            string
	ExpectedVersion *string
	ActualVersion   *string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("txlog: concurrent commit conflict at %s (expected %s, actual %s)",
		e.Path, tokenStr(e.ExpectedVersion), tokenStr(e.ActualVersion))
}

func tokenStr(t *string) string {
	if t == nil {
		return "<none>"
	}
	return *t
}

// Retryable reports true: ConcurrencyError is always retryable (§7).
func (e *ConcurrencyError) Retryable() bool { return true }
