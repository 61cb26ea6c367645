package juggler

import (
	"github.com/pdtopdog/piwheels/internal/protocol"
)

// Complete exposes the verdict bookkeeping for tests.
func Complete(j *Juggler, slaveID, filename string, verdict protocol.VerdictStatus) protocol.VerdictStatus {
	return j.complete(slaveID, filename, verdict)
}
