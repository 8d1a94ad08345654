package repl

import (
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
)

const (
	retryBackoffBase = 100 * time.Microsecond
	retryBackoffMax  = 50 * time.Millisecond
)

// WriteConflictRetry runs fn until it finishes with anything other than a write conflict. fn
// must redo the whole operation each time, starting from a fresh unit of work. Inside an
// enclosing unit of work the conflict is returned as-is so the outermost loop can retry.
func WriteConflictRetry(opCtx *storage.OperationContext, opName string, ns domain.Namespace, fn func() error) error {
	logger := opCtx.Engine().Logger()
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !domain.IsWriteConflict(err) {
			return err
		}
		if opCtx.RecoveryUnit().InUnitOfWork() {
			return err
		}
		logger.Debug("write conflict, retrying",
			"op", opName, "ns", ns.String(), "attempt", attempt+1, "reason", domain.ReasonOf(err))
		time.Sleep(retryBackoff(attempt))
	}
}

func retryBackoff(attempt int) time.Duration {
	if attempt > 9 {
		return retryBackoffMax
	}
	d := retryBackoffBase << attempt
	if d > retryBackoffMax {
		return retryBackoffMax
	}
	return d
}

// withWriteUnit runs fn inside a unit of work under WriteConflictRetry and commits it.
func withWriteUnit(opCtx *storage.OperationContext, opName string, ns domain.Namespace, fn func() error) error {
	return WriteConflictRetry(opCtx, opName, ns, func() error {
		wunit := storage.BeginWriteUnitOfWork(opCtx)
		defer wunit.Close()
		if err := fn(); err != nil {
			return err
		}
		return wunit.Commit()
	})
}
