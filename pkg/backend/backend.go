// Package backend defines the remote collaborators the reconcilers talk to:
// the control plane, plugin registries and a container runtime.
//
// Every implementation must be safe for concurrent use: a single client is
// shared by all tasks of a batch.
package backend

import "context"

// ControlPlane is an administrative session on the control plane.
type ControlPlane interface {
	// URL returns the API base URL.
	URL() string

	// ComputeResources lists every compute resource.
	ComputeResources(ctx context.Context) ([]ComputeResource, error)

	// CreateComputeResource creates a compute resource from a complete spec.
	CreateComputeResource(ctx context.Context, spec ComputeResourceSpec) (*ComputeResource, error)

	// SearchPlugin returns the first plugin matching key, or nil if there is none.
	SearchPlugin(ctx context.Context, key SearchKey) (*Plugin, error)

	// PluginComputeResources lists the compute resources a plugin is registered to.
	PluginComputeResources(ctx context.Context, plugin Plugin) ([]ComputeResource, error)

	// RegisterPlugin registers the registry plugin at pluginURL to a compute resource.
	RegisterPlugin(ctx context.Context, pluginURL, computeResource string) (*Plugin, error)

	Close() error
}

// Registry is a read-only view of a plugin registry.
type Registry interface {
	URL() string

	// SearchPlugin returns the first plugin matching key, or nil if there is none.
	SearchPlugin(ctx context.Context, key SearchKey) (*Plugin, error)

	// FetchPlugin reads the plugin at a URL of this registry.
	FetchPlugin(ctx context.Context, url string) (*Plugin, error)
}

// Session is an authenticated registry user.
type Session interface {
	Registry

	Username() string

	// UploadPlugin uploads a descriptor, creating a new plugin owned by the user.
	UploadPlugin(ctx context.Context, upload PluginUpload) (*Plugin, error)

	Close() error
}

// Accounts authenticates and creates users of a server.
type Accounts interface {
	// Login authenticates a user, returning *AuthRejectedError for bad credentials.
	Login(ctx context.Context, url string, user UserSpec) (Session, error)

	// CreateUser signs up a new user.
	CreateUser(ctx context.Context, url string, user UserSpec) error

	// Anonymous connects to a registry without credentials.
	Anonymous(ctx context.Context, url string) (Registry, error)

	// LoginAdmin authenticates an administrator of a control plane.
	LoginAdmin(ctx context.Context, url string, admin UserSpec) (ControlPlane, error)
}

// ContainerRuntime runs plugin images locally and reaches into the
// control plane's own container.
type ContainerRuntime interface {
	HasImage(ctx context.Context, image string) (bool, error)

	// Pull fetches an image, reporting each progress line to progress.
	Pull(ctx context.Context, image string, progress func(string)) error

	// RunRemove runs cmd in a throwaway container, returning its standard
	// output and exit code.
	RunRemove(ctx context.Context, image string, cmd []string) (output string, exitCode int, err error)

	// ImageCmd returns the default command of an image.
	ImageCmd(ctx context.Context, image string) ([]string, error)

	// FindByLabel returns the ID of a running container carrying label
	// (key=value), or "" if there is none.
	FindByLabel(ctx context.Context, label string) (string, error)

	// Exec runs cmd inside a running container, returning its standard
	// output and exit code.
	Exec(ctx context.Context, container string, cmd []string) (output string, exitCode int, err error)
}
