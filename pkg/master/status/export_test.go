package status

import (
	"context"
)

// Tick exposes one statistics poll for tests.
func Tick(s *Status, ctx context.Context) {
	s.tick(ctx)
}
