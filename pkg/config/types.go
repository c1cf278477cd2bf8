package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/provisioner/pkg/backend"
)

// Spec is the given, unexpanded provisioning spec.
type Spec struct {
	// Version is the spec format version (e.g., "1.2").
	Version string `yaml:"version" validate:"required"`

	// On locates the backends being provisioned.
	On On `yaml:"on"`

	// ControlPlane is the desired state of the control plane.
	ControlPlane ControlPlane `yaml:"control_plane"`

	// Registry is the desired state of the home registry.
	Registry Registry `yaml:"registry,omitempty"`
}

// On locates the control plane and the registries.
type On struct {
	// ControlPlaneURL is the API root of the control plane.
	ControlPlaneURL string `yaml:"control_plane_url" validate:"required,url"`

	// Admin is the control-plane superuser. It must already exist.
	Admin backend.UserSpec `yaml:"admin"`

	// RegistryURL is the API root of the home registry, where synthesized
	// plugins are uploaded.
	RegistryURL string `yaml:"registry_url,omitempty" validate:"omitempty,url"`

	// PublicRegistries are peer registries searched for plugins, in order.
	PublicRegistries []string `yaml:"public_registries,omitempty" validate:"dive,url"`
}

// ControlPlane is the desired state of the control plane.
type ControlPlane struct {
	Users            []backend.UserSpec `yaml:"users,omitempty" validate:"dive"`
	ComputeResources []ComputeResource  `yaml:"compute_resources,omitempty" validate:"dive"`
	Plugins          []PluginEntry      `yaml:"plugins,omitempty" validate:"dive"`
}

// Registry is the desired state of the home registry.
type Registry struct {
	Users []backend.UserSpec `yaml:"users,omitempty" validate:"dive"`
}

// ComputeResource is a compute resource as written in a spec.
// Omitted fields are not compared against an existing resource.
type ComputeResource struct {
	Name        string  `yaml:"name" validate:"required"`
	URL         *string `yaml:"url,omitempty" validate:"omitempty,url"`
	Username    *string `yaml:"username,omitempty"`
	Password    *string `yaml:"password,omitempty"`
	Description *string `yaml:"description,omitempty"`
}

// Spec converts the entry to a backend spec.
func (c ComputeResource) Spec() backend.ComputeResourceSpec {
	return backend.ComputeResourceSpec{
		Name:        c.Name,
		URL:         c.URL,
		Username:    c.Username,
		Password:    c.Password,
		Description: c.Description,
	}
}

// PluginEntry is a plugin as written in a spec: either a bare string or a
// mapping. A bare string is kept in Raw and resolved by Expand.
type PluginEntry struct {
	Raw string `yaml:"-"`

	Name             string   `yaml:"name,omitempty"`
	Version          string   `yaml:"version,omitempty"`
	DockImage        string   `yaml:"dock_image,omitempty"`
	PublicRepo       string   `yaml:"public_repo,omitempty"`
	URL              string   `yaml:"url,omitempty"`
	ComputeResources []string `yaml:"compute_resources,omitempty"`
	Owner            string   `yaml:"owner,omitempty"`
}

var pluginEntryKeys = map[string]bool{
	"name":              true,
	"version":           true,
	"dock_image":        true,
	"public_repo":       true,
	"url":               true,
	"compute_resources": true,
	"owner":             true,
}

// UnmarshalYAML accepts a scalar or a mapping with known keys only.
func (p *PluginEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*p = PluginEntry{Raw: s}
		return nil

	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			key := node.Content[i]
			if !pluginEntryKeys[key.Value] {
				return fmt.Errorf("line %d: field %s not found in plugin", key.Line, key.Value)
			}
		}
		type plain PluginEntry
		var v plain
		if err := node.Decode(&v); err != nil {
			return err
		}
		*p = PluginEntry(v)
		return nil

	default:
		return fmt.Errorf("line %d: plugin must be a string or a mapping", node.Line)
	}
}

// MarshalYAML writes a bare string entry back as a scalar.
func (p PluginEntry) MarshalYAML() (interface{}, error) {
	if p.Raw != "" {
		return p.Raw, nil
	}
	type plain PluginEntry
	return plain(p), nil
}

// Key returns the search key of a mapping entry.
func (p PluginEntry) Key() backend.SearchKey {
	return backend.SearchKey{
		Name:       p.Name,
		Version:    p.Version,
		DockImage:  p.DockImage,
		PublicRepo: p.PublicRepo,
		URL:        p.URL,
	}
}

// Title names the entry in error messages.
func (p PluginEntry) Title() string {
	if p.Raw != "" {
		return p.Raw
	}
	if s := p.Key().String(); s != "" {
		return s
	}
	return "(empty plugin)"
}

// Expanded is a spec with every default filled in.
type Expanded struct {
	Version          string
	ControlPlaneURL  string
	Admin            backend.UserSpec
	RegistryURL      string
	PublicRegistries []string

	ControlPlaneUsers []backend.UserSpec
	RegistryUsers     []backend.UserSpec
	ComputeResources  []backend.ComputeResourceSpec
	Plugins           []backend.PluginSpec
}
