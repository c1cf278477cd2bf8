package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/openfroyo/provisioner/pkg/backend"
)

var registryPluginURL = regexp.MustCompile(`^https?://.+/api/v1/plugins/\d+/$`)

// Expand fills defaults and resolves plugin strings.
//
//   - a user without an email gets <username>@example.org
//   - a plugin without compute resources is registered to every declared one
//   - a plugin without an owner is owned by the first registry user
func (s *Spec) Expand() (*Expanded, error) {
	cp := s.ControlPlane
	if len(cp.ComputeResources) == 0 && len(cp.Plugins) > 0 {
		return nil, errors.New("must specify at least one compute resource when plugins are given")
	}

	e := &Expanded{
		Version:           s.Version,
		ControlPlaneURL:   s.On.ControlPlaneURL,
		Admin:             s.On.Admin,
		RegistryURL:       s.On.RegistryURL,
		PublicRegistries:  append([]string(nil), s.On.PublicRegistries...),
		ControlPlaneUsers: withEmails(cp.Users),
		RegistryUsers:     withEmails(s.Registry.Users),
	}

	declared := make([]string, 0, len(cp.ComputeResources))
	for _, c := range cp.ComputeResources {
		e.ComputeResources = append(e.ComputeResources, c.Spec())
		declared = append(declared, c.Name)
	}

	var defaultOwner string
	if len(s.Registry.Users) > 0 {
		defaultOwner = s.Registry.Users[0].Username
	}

	for _, entry := range cp.Plugins {
		p, err := expandPlugin(entry, declared, defaultOwner)
		if err != nil {
			return nil, err
		}
		e.Plugins = append(e.Plugins, p)
	}
	return e, nil
}

func withEmails(users []backend.UserSpec) []backend.UserSpec {
	out := make([]backend.UserSpec, len(users))
	for i, u := range users {
		if u.Email == "" {
			u.Email = u.Username + "@example.org"
		}
		out[i] = u
	}
	return out
}

func expandPlugin(entry PluginEntry, declared []string, defaultOwner string) (backend.PluginSpec, error) {
	key := entry.Key()
	if entry.Raw != "" {
		var err error
		if key, err = ResolvePluginString(entry.Raw); err != nil {
			return backend.PluginSpec{}, err
		}
	}

	computes := entry.ComputeResources
	if len(computes) == 0 {
		computes = declared
	}
	for _, name := range computes {
		if !contains(declared, name) {
			return backend.PluginSpec{}, fmt.Errorf("plugin %q: compute resource %q not found in %v", entry.Title(), name, declared)
		}
	}

	owner := entry.Owner
	if owner == "" {
		owner = defaultOwner
	}

	return backend.PluginSpec{
		Key:              key,
		ComputeResources: append([]string(nil), computes...),
		Owner:            owner,
	}, nil
}

// ResolvePluginString interprets a bare plugin string. Registry plugin URLs
// are kept as such, repository URLs become a public repo, strings shaped
// like container images become a dock image, anything else is a plugin name.
func ResolvePluginString(s string) (backend.SearchKey, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return backend.SearchKey{}, errors.New("plugin string is empty")
	case registryPluginURL.MatchString(s):
		return backend.SearchKey{URL: s}, nil
	case LooksLikeImage(s):
		return backend.SearchKey{DockImage: s}, nil
	case LooksLikeRepo(s):
		return backend.SearchKey{PublicRepo: s}, nil
	default:
		return backend.SearchKey{Name: s}, nil
	}
}

// LooksLikeImage reports whether s is shaped like a container image reference.
func LooksLikeImage(s string) bool {
	for _, prefix := range []string{"docker.io/", "ghcr.io/", "fnndsc/pl-"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return strings.Count(s, ":") == 1 &&
		s != "" && unicode.IsLetter(rune(s[0])) &&
		strings.Count(s, "/") <= 2 &&
		!strings.Contains(s, "//")
}

// LooksLikeRepo reports whether s is a GitHub or GitLab repository URL.
func LooksLikeRepo(s string) bool {
	return strings.HasPrefix(s, "https://github.com/") || strings.HasPrefix(s, "https://gitlab.com/")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
