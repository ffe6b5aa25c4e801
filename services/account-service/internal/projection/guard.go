package projection

import (
	"errors"
	"fmt"
)

// Version skew classifications. Lower and Same are terminal: applying them
// would move the projection backward or repeat an applied mutation. Ahead is
// retryable: an earlier event for the aggregate is still in flight.
var (
	ErrLowerVersion = errors.New("event version below projection version")
	ErrSameVersion  = errors.New("event version already applied")
	ErrAheadVersion = errors.New("projection behind event version")
)

// CheckVersion orders an incoming event against the projection's current
// version. Only incoming == current+1 is applicable; everything else is
// classified skew. Per-aggregate partition ordering makes skew rare, but
// retry republishing can still reorder deliveries.
func CheckVersion(current, incoming int64) error {
	switch {
	case incoming == current+1:
		return nil
	case incoming == current:
		return fmt.Errorf("%w: version %d", ErrSameVersion, incoming)
	case incoming < current:
		return fmt.Errorf("%w: incoming %d, current %d", ErrLowerVersion, incoming, current)
	default:
		return fmt.Errorf("%w: incoming %d, current %d", ErrAheadVersion, incoming, current)
	}
}
