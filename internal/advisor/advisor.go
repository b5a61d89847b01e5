// Package advisor wraps the generative model that drafts financial
// responses. The advisor never observes the full catalog or executes
// anything itself: it receives only the documents that survived the access
// perimeter and hands back a draft plus proposed actions for authorization.
package advisor

import (
	"context"

	"github.com/cordon-io/cordon/internal/advice"
)

// SystemContext frames a single invocation. It tells the model who it is
// answering without granting it any authority of its own.
type SystemContext struct {
	UserID        string
	Tier          advice.Tier
	Certification advice.Certification
}

// Capability is the generative backend behind the pipeline. Implementations
// return the draft response body and any side-effecting operations the model
// proposed; callers authorize and execute those separately.
type Capability interface {
	Invoke(ctx context.Context, sys SystemContext, q advice.Query, docs []advice.DocumentRef) (*advice.DraftResponse, []advice.ProposedAction, error)
}
