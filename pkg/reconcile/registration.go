package reconcile

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// LocalhostEquivalent rewrites a registry plugin URL to go through the
// control plane's own scheme and host. A control plane served from localhost
// rejects some public plugin URLs as invalid; the rewritten URL works around
// that. ok is false unless the control plane is addressed through localhost
// and the plugin URL lives under the same path prefix.
func LocalhostEquivalent(controlPlaneURL, pluginURL string) (alt string, ok bool) {
	cp, err := url.Parse(controlPlaneURL)
	if err != nil {
		return "", false
	}
	switch cp.Hostname() {
	case "localhost", "127.0.0.1":
	default:
		return "", false
	}

	p, err := url.Parse(pluginURL)
	if err != nil || p.Host == "" {
		return "", false
	}
	prefix := cp.Path
	if i := strings.Index(prefix, "api/"); i != -1 {
		prefix = prefix[:i]
	}
	if !strings.HasPrefix(p.Path, prefix) {
		return "", false
	}

	rewritten := *p
	rewritten.Scheme = cp.Scheme
	rewritten.Host = cp.Host
	alt = rewritten.String()
	if alt == pluginURL {
		return "", false
	}
	return alt, true
}

// register registers the registry plugin at pluginURL to one compute resource.
func (t *PluginTask) register(ctx context.Context, status *engine.Channel, pluginURL, computeResource string) (*backend.Plugin, error) {
	status.Append(fmt.Sprintf("--> %q", computeResource))
	policy := t.Retry.policy("register", IsUploadConflict)

	attempt := func(u string) (*backend.Plugin, error) {
		return engine.Retry(ctx, status, policy, func(ctx context.Context) (*backend.Plugin, error) {
			return t.ControlPlane.RegisterPlugin(ctx, u, computeResource)
		})
	}

	registered, err := attempt(pluginURL)
	if err == nil || !backend.IsInvalidURL(err) {
		return registered, err
	}
	alt, ok := LocalhostEquivalent(t.ControlPlane.URL(), pluginURL)
	if !ok {
		return nil, err
	}
	status.Append("retrying with " + alt)
	return attempt(alt)
}

// registerAll registers a plugin to each compute resource, one at a time: the
// control plane does not tolerate concurrent registrations of the same plugin.
//
// The outcome is Changed if any registration succeeded, but Failed if any
// failed. The registration carries the first successfully registered plugin.
func (t *PluginTask) registerAll(ctx context.Context, status *engine.Channel, pluginURL string, computeResources []string, origin Origin) (engine.Outcome, *Registration) {
	outcome := engine.NoChange
	var first *backend.Plugin
	var failures []string

	for _, name := range computeResources {
		registered, err := t.register(ctx, status, pluginURL, name)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		outcome = outcome.Combine(engine.Changed)
		if first == nil {
			first = registered
		}
	}

	if len(failures) > 0 {
		outcome = engine.Failed
		status.Append("failed to register to " + strings.Join(failures, "; "))
	} else if first != nil {
		status.Append(first.URL)
	}
	if first == nil {
		return outcome, nil
	}
	return outcome, &Registration{Plugin: first, OriginURL: pluginURL, Origin: origin}
}
