package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// Origin tells where a registered plugin was found.
type Origin int

const (
	// AlreadyPresent means the plugin was already registered on the control plane.
	AlreadyPresent Origin = iota

	// LocalRegistry means the plugin was found in the owner's home registry.
	LocalRegistry

	// PeerRegistry means the plugin was found in a public peer registry.
	PeerRegistry

	// SynthesizedFromContainer means the plugin's descriptor was produced by
	// running its image and uploaded to the home registry.
	SynthesizedFromContainer
)

func (o Origin) String() string {
	switch o {
	case AlreadyPresent:
		return "already present"
	case LocalRegistry:
		return "local registry"
	case PeerRegistry:
		return "peer registry"
	case SynthesizedFromContainer:
		return "synthesized from container"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Registration is the result of a plugin task.
type Registration struct {
	// Plugin is the control plane's record of the plugin.
	Plugin *backend.Plugin

	// OriginURL is the registry URL the plugin was registered from, if any.
	OriginURL string

	Origin Origin
}

// PluginTask makes sure a plugin is registered to every desired compute
// resource. A plugin given by registry URL is first fetched to learn its
// name and version. It resolves the plugin in three stages, stopping at the
// first which applies:
//
//  1. the plugin is already on the control plane: register it to the compute
//     resources it is missing from
//  2. the plugin is in the home registry or a peer registry: register it
//  3. the plugin's image can describe itself: upload the description to the
//     home registry, then register it
type PluginTask struct {
	Plugin       backend.PluginSpec
	ControlPlane backend.ControlPlane

	// Home is the session of the plugin's owner on the home registry, or nil.
	Home backend.Session

	// Peers are public registries searched after Home, in order.
	Peers []backend.Registry

	// Runtime is used to describe plugin images. Nil if unavailable.
	Runtime backend.ContainerRuntime

	Retry RetrySettings
}

var _ engine.Task[*Registration] = (*PluginTask)(nil)

func (t *PluginTask) FirstStatus() (string, string) {
	return t.title(), "checking compute resources..."
}

func (t *PluginTask) title() string {
	k := t.Plugin.Key
	switch {
	case k.Name != "" && k.Version != "":
		return k.Name + "@" + k.Version
	case k.Name != "":
		return k.Name
	case k.DockImage != "":
		return k.DockImage
	case k.URL != "":
		return k.URL
	default:
		return k.PublicRepo
	}
}

func (t *PluginTask) Run(ctx context.Context, status *engine.Channel) (engine.Outcome, *Registration) {
	key := t.Plugin.Key
	if key.IsEmpty() {
		err := engine.NewPermanentError("plugin has neither name, image nor repository", nil).
			WithCode(engine.ErrCodeValidation)
		status.Append(err.Error())
		return engine.Failed, nil
	}

	var given *backend.Plugin
	var givenOrigin Origin
	if key.URL != "" {
		if given, givenOrigin = t.fetch(ctx, status, key.URL); given == nil {
			return engine.Failed, nil
		}
		status.SetTitle(given.String())
		key = backend.SearchKey{Name: given.Name, Version: given.Version}
	}

	existing, err := t.search(ctx, status, t.ControlPlane, key)
	if err != nil {
		return engine.Failed, nil
	}
	if existing != nil {
		return t.alreadyPresent(ctx, status, existing)
	}
	if given != nil {
		return t.registerAll(ctx, status, t.Plugin.Key.URL, t.Plugin.ComputeResources, givenOrigin)
	}

	if found, origin := t.searchRegistries(ctx, status, key); found != nil {
		status.SetTitle(found.String())
		return t.registerAll(ctx, status, found.URL, t.Plugin.ComputeResources, origin)
	}

	return t.synthesize(ctx, status, key, t.Plugin.ComputeResources)
}

func (t *PluginTask) search(ctx context.Context, status *engine.Channel, r interface {
	SearchPlugin(context.Context, backend.SearchKey) (*backend.Plugin, error)
}, key backend.SearchKey) (*backend.Plugin, error) {
	return engine.Retry(ctx, status, t.Retry.policy("search", engine.IsDisconnect),
		func(ctx context.Context) (*backend.Plugin, error) {
			return r.SearchPlugin(ctx, key)
		})
}

// alreadyPresent registers an existing plugin to the compute resources it is missing from.
func (t *PluginTask) alreadyPresent(ctx context.Context, status *engine.Channel, existing *backend.Plugin) (engine.Outcome, *Registration) {
	status.SetTitle(existing.String())

	current, err := engine.Retry(ctx, status, t.Retry.policy("list", engine.IsDisconnect),
		func(ctx context.Context) ([]backend.ComputeResource, error) {
			return t.ControlPlane.PluginComputeResources(ctx, *existing)
		})
	if err != nil {
		return engine.Failed, nil
	}

	missing := missingComputeResources(t.Plugin.ComputeResources, current)
	if len(missing) == 0 {
		status.Append(existing.URL)
		return engine.NoChange, &Registration{Plugin: existing, Origin: AlreadyPresent}
	}
	status.Append("missing from " + strings.Join(missing, ", "))

	// registration goes through a registry copy of the plugin
	exact := backend.SearchKey{Name: existing.Name, Version: existing.Version}
	found, _ := t.searchRegistries(ctx, status, exact)
	if found != nil {
		return t.registerAll(ctx, status, found.URL, missing, AlreadyPresent)
	}

	// no registry has it: describe the image to make a copy
	key := t.Plugin.Key
	if key.Name == "" {
		key.Name = existing.Name
	}
	if key.DockImage == "" {
		key.DockImage = existing.DockImage
	}
	return t.synthesize(ctx, status, key, missing)
}

// missingComputeResources returns the desired names absent from current, in desired order.
func missingComputeResources(desired []string, current []backend.ComputeResource) []string {
	have := make(map[string]bool, len(current))
	for _, c := range current {
		have[c.Name] = true
	}
	var missing []string
	for _, name := range desired {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

type candidate struct {
	registry backend.Registry
	origin   Origin
}

// registries lists the home registry, then each peer.
func (t *PluginTask) registries() []candidate {
	var candidates []candidate
	if t.Home != nil {
		candidates = append(candidates, candidate{t.Home, LocalRegistry})
	}
	for _, p := range t.Peers {
		candidates = append(candidates, candidate{p, PeerRegistry})
	}
	return candidates
}

// fetch reads the plugin at url from the registry serving it. Only
// registries whose base URL prefixes url are asked.
func (t *PluginTask) fetch(ctx context.Context, status *engine.Channel, url string) (*backend.Plugin, Origin) {
	for _, c := range t.registries() {
		if !strings.HasPrefix(url, c.registry.URL()) {
			continue
		}
		status.Append(fmt.Sprintf("fetching %s...", url))
		p, err := engine.Retry(ctx, status, t.Retry.policy("fetch", engine.IsDisconnect),
			func(ctx context.Context) (*backend.Plugin, error) {
				return c.registry.FetchPlugin(ctx, url)
			})
		if err != nil {
			return nil, 0
		}
		return p, c.origin
	}
	status.Append(fmt.Sprintf("%s is not served by the home registry or any public registry", url))
	return nil, 0
}

// searchRegistries searches the home registry, then each peer. A registry
// which cannot be searched is skipped.
func (t *PluginTask) searchRegistries(ctx context.Context, status *engine.Channel, key backend.SearchKey) (*backend.Plugin, Origin) {
	for _, c := range t.registries() {
		status.Append(fmt.Sprintf("searching in %s...", c.registry.URL()))
		found, err := t.search(ctx, status, c.registry, key)
		if err != nil {
			continue
		}
		if found != nil {
			status.Append("found --> " + found.URL)
			return found, c.origin
		}
	}
	status.Append("not found in any registry")
	return nil, 0
}

// synthesize runs the plugin's image to obtain its descriptor, uploads it to
// the home registry and registers the upload to computes.
func (t *PluginTask) synthesize(ctx context.Context, status *engine.Channel, key backend.SearchKey, computes []string) (engine.Outcome, *Registration) {
	if t.Runtime == nil {
		status.Append("no container runtime available")
		return engine.Failed, nil
	}
	image := key.DockImage
	if image == "" {
		status.Append("cannot describe plugin without an image")
		return engine.Failed, nil
	}
	if t.Home == nil {
		status.Append(fmt.Sprintf("no registry session for owner %q", t.Plugin.Owner))
		return engine.Failed, nil
	}

	if err := t.ensureImage(ctx, status, image); err != nil {
		status.Append(err.Error())
		return engine.Failed, nil
	}

	output, err := Describe(ctx, t.Runtime, image, key, status)
	if err != nil {
		status.Append(err.Error())
		return engine.Failed, nil
	}
	desc, err := parseDescriptor(output)
	if err != nil {
		status.Append(err.Error())
		return engine.Failed, nil
	}
	upload := desc.fill(key, InferFromImage(image))
	if upload.Descriptor, err = desc.marshal(); err != nil {
		status.Append(err.Error())
		return engine.Failed, nil
	}

	status.Append(fmt.Sprintf("uploading %s to %s...", upload.Name, t.Home.URL()))
	uploaded, err := engine.Retry(ctx, status, t.Retry.policy("upload", IsUploadConflict),
		func(ctx context.Context) (*backend.Plugin, error) {
			return t.Home.UploadPlugin(ctx, upload)
		})
	if err != nil {
		return engine.Failed, nil
	}
	status.SetTitle(uploaded.String())

	return t.registerAll(ctx, status, uploaded.URL, computes, SynthesizedFromContainer)
}

func (t *PluginTask) ensureImage(ctx context.Context, status *engine.Channel, image string) error {
	present, err := t.Runtime.HasImage(ctx, image)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	status.Append("pulling " + image + "...")
	logger := zerolog.Ctx(ctx)
	return t.Runtime.Pull(ctx, image, func(line string) {
		logger.Debug().Str("image", image).Msg(line)
	})
}
