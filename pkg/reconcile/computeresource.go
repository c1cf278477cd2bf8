package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// ComputeResourceTask makes sure a compute resource exists. Existing resources
// are never modified: a conflicting one fails the task.
type ComputeResourceTask struct {
	ControlPlane backend.ControlPlane
	Desired      backend.ComputeResourceSpec

	// Existing is the full list of live compute resources, fetched once per batch.
	Existing []backend.ComputeResource
}

var _ engine.Task[*backend.ComputeResource] = (*ComputeResourceTask)(nil)

func (t *ComputeResourceTask) FirstStatus() (string, string) {
	return t.Desired.Name, "checking..."
}

func (t *ComputeResourceTask) Run(ctx context.Context, status *engine.Channel) (engine.Outcome, *backend.ComputeResource) {
	for i := range t.Existing {
		live := &t.Existing[i]
		if live.Name != t.Desired.Name {
			continue
		}
		if mismatches := compareComputeResource(t.Desired, *live); len(mismatches) > 0 {
			status.Replace("conflicts with existing compute resource: " + strings.Join(mismatches, "; "))
			return engine.Failed, nil
		}
		status.Replace("exists: " + live.URL)
		return engine.NoChange, live
	}

	if missing := t.Desired.MissingFields(); len(missing) > 0 {
		err := engine.NewPermanentError("missing configuration: "+strings.Join(missing, ", "), nil).
			WithCode(engine.ErrCodeMissingConfig)
		status.Replace(err.Error())
		return engine.Failed, nil
	}

	status.Replace("creating...")
	created, err := t.ControlPlane.CreateComputeResource(ctx, t.Desired)
	if err != nil {
		status.Replace(err.Error())
		return engine.Failed, nil
	}
	status.Replace("created: " + created.URL)
	return engine.Changed, created
}

// compareComputeResource describes each specified field which differs from the
// live resource. Credentials are write-only and never compared.
func compareComputeResource(desired backend.ComputeResourceSpec, live backend.ComputeResource) []string {
	var mismatches []string
	if desired.URL != nil && *desired.URL != live.URL {
		mismatches = append(mismatches, fmt.Sprintf("url is %q, not %q", live.URL, *desired.URL))
	}
	if desired.Description != nil && *desired.Description != live.Description {
		mismatches = append(mismatches, fmt.Sprintf("description is %q, not %q", live.Description, *desired.Description))
	}
	return mismatches
}
