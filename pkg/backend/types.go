package backend

import (
	"net/url"
	"strings"
)

// ComputeResource is a compute resource as it exists on the control plane.
type ComputeResource struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"compute_url"`
	Description string `json:"description"`
	AuthType    string `json:"compute_auth,omitempty"`
}

// ComputeResourceSpec is the desired state of a compute resource.
// Nil fields are unspecified: they are neither compared nor created.
type ComputeResourceSpec struct {
	Name        string  `json:"name" validate:"required"`
	URL         *string `json:"compute_url,omitempty" validate:"omitempty,url"`
	Username    *string `json:"compute_user,omitempty"`
	Password    *string `json:"compute_password,omitempty"`
	Description *string `json:"description,omitempty"`
}

// MissingFields returns the names of the unspecified fields.
func (s ComputeResourceSpec) MissingFields() []string {
	var missing []string
	if s.URL == nil {
		missing = append(missing, "url")
	}
	if s.Username == nil {
		missing = append(missing, "username")
	}
	if s.Password == nil {
		missing = append(missing, "password")
	}
	if s.Description == nil {
		missing = append(missing, "description")
	}
	return missing
}

// Complete reports whether every field is specified.
func (s ComputeResourceSpec) Complete() bool {
	return len(s.MissingFields()) == 0
}

// Plugin is a plugin record of a control plane or registry.
type Plugin struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	DockImage  string `json:"dock_image"`
	PublicRepo string `json:"public_repo"`
	URL        string `json:"url"`

	// ComputeResourcesURL lists the compute resources a control-plane plugin is registered to.
	ComputeResourcesURL string `json:"compute_resources,omitempty"`
}

// String returns name@version, falling back to the image when the name is unknown.
func (p Plugin) String() string {
	name := p.Name
	if name == "" {
		name = p.DockImage
	}
	if p.Version == "" {
		return name
	}
	return name + "@" + p.Version
}

// SearchKey identifies a plugin. Every non-empty field must match.
type SearchKey struct {
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	DockImage  string `json:"dock_image,omitempty" yaml:"dock_image,omitempty"`
	PublicRepo string `json:"public_repo,omitempty" yaml:"public_repo,omitempty"`

	// URL is a registry plugin URL. It is resolved to a name and version by
	// fetching it, and is never a search parameter.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// IsEmpty reports whether the key has no fields at all.
func (k SearchKey) IsEmpty() bool {
	return k == SearchKey{}
}

// Params returns the key as query parameters.
func (k SearchKey) Params() url.Values {
	v := url.Values{}
	if k.Name != "" {
		v.Set("name_exact", k.Name)
	}
	if k.Version != "" {
		v.Set("version", k.Version)
	}
	if k.DockImage != "" {
		v.Set("dock_image", k.DockImage)
	}
	if k.PublicRepo != "" {
		v.Set("public_repo", k.PublicRepo)
	}
	return v
}

// String returns a short human-readable description of the key.
func (k SearchKey) String() string {
	var parts []string
	for _, p := range []struct{ label, value string }{
		{"name", k.Name},
		{"version", k.Version},
		{"image", k.DockImage},
		{"repo", k.PublicRepo},
		{"url", k.URL},
	} {
		if p.value != "" {
			parts = append(parts, p.label+"="+p.value)
		}
	}
	return strings.Join(parts, " ")
}

// Matches reports whether a plugin record satisfies every field of the key.
func (k SearchKey) Matches(p Plugin) bool {
	return (k.Name == "" || k.Name == p.Name) &&
		(k.Version == "" || k.Version == p.Version) &&
		(k.DockImage == "" || k.DockImage == p.DockImage) &&
		(k.PublicRepo == "" || k.PublicRepo == p.PublicRepo) &&
		(k.URL == "" || k.URL == p.URL)
}

// PluginUpload is a plugin descriptor to be uploaded to a registry.
type PluginUpload struct {
	Name       string
	DockImage  string
	PublicRepo string

	// Descriptor is the JSON self-description printed by the plugin.
	Descriptor []byte
}

// UserSpec is the desired state of a user account.
type UserSpec struct {
	Username string `json:"username" yaml:"username" validate:"required"`
	Password string `json:"password" yaml:"password" validate:"required"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
}

// PluginSpec is the desired state of a plugin on the control plane.
type PluginSpec struct {
	Key SearchKey

	// ComputeResources names every compute resource the plugin must be registered to.
	ComputeResources []string

	// Owner is the registry user whose session uploads synthesized plugins.
	Owner string
}
