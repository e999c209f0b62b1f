package ports

import (
	"context"

	"github.com/voiceagent/runtime/types"
)

// ControlPlaneClient is the abstract room-server control-plane connection
// the Worker Dispatcher holds (spec.md §4.1, §6): register the worker's
// identity, receive job assignments, and report per-job status back.
type ControlPlaneClient interface {
	// RegisterWorker declares this worker's identity and capabilities.
	// Dispatcher.Start calls it once per successful (re)connect.
	RegisterWorker(ctx context.Context, name string, capabilities []string) error
	// Jobs streams job assignments until ctx is cancelled or the
	// connection drops, in which case the channel is closed and the
	// dispatcher reconnects (spec.md §4.1 "re-registers on reconnect").
	Jobs(ctx context.Context) (<-chan types.Job, error)
	// ReportJobStatus sends an intermediate lifecycle state (e.g.
	// "dialing", "active") for jobID.
	ReportJobStatus(ctx context.Context, jobID, state string) error
	// ReportJobOutcome sends the terminal outcome for a job once its
	// session (or rejection) concludes (spec.md §4.1).
	ReportJobOutcome(ctx context.Context, outcome types.JobOutcome) error
}
