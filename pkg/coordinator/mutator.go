package coordinator

import (
	"context"

	"github.com/pacfleet/pacfleet/pkg/types"
)

// Mutator is the external collaborator that applies resolved package
// actions on an endpoint. The server records decisions and treats the apply
// step as opaque: it either succeeds or reports an error, and it cannot be
// interrupted once started.
type Mutator interface {
	Apply(ctx context.Context, endpoint *types.Endpoint, actions []types.ResolvedAction) error
}

// RecordingMutator is the default Mutator: it applies nothing and always
// succeeds. The endpoint-side agent is expected to pick the recorded
// actions up from the operation row and execute them against pacman.
type RecordingMutator struct{}

// Apply records nothing and reports success.
func (RecordingMutator) Apply(context.Context, *types.Endpoint, []types.ResolvedAction) error {
	return nil
}
