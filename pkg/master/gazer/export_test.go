package gazer

import (
	"context"
)

// Poll exposes one upstream poll for tests.
func Poll(g *Gazer, ctx context.Context) {
	g.poll(ctx)
}
