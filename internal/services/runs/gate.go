package runsvc

import (
	"context"
	"errors"
	"fmt"
)

// Authorize checks that the requesting principal may observe a run. A run the
// producer has not opened yet is treated as allowed-but-empty, since a client
// may race to subscribe before the run exists; ownership is enforced the
// moment the snapshot does exist.
func (s *Service) Authorize(ctx context.Context, runID, userID string) error {
	st, err := s.loadState(runID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.UserID != userID {
		return fmt.Errorf("%w: run %s", ErrForbidden, runID)
	}
	return nil
}
