package reconcile

import (
	"context"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// PeerConnection connects anonymously to a public peer registry.
type PeerConnection struct {
	Accounts backend.Accounts
	URL      string
}

var _ engine.Task[backend.Registry] = (*PeerConnection)(nil)

func (p *PeerConnection) FirstStatus() (string, string) {
	return p.URL, "checking peer status..."
}

func (p *PeerConnection) Run(ctx context.Context, status *engine.Channel) (engine.Outcome, backend.Registry) {
	registry, err := p.Accounts.Anonymous(ctx, p.URL)
	if err != nil {
		status.Replace("error: " + err.Error())
		return engine.Failed, nil
	}
	status.Replace("connected")
	return engine.NoChange, registry
}
