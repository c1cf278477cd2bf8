package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ValidationError is a spec that parsed but is not meaningful.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid spec: " + e.Problems[0]
	}
	return "invalid spec:\n  - " + strings.Join(e.Problems, "\n  - ")
}

var validate = validator.New()

// Load reads, parses and validates a spec file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec: %w", err)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// Parse decodes and validates a spec. Unknown keys are errors.
func Parse(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("spec is empty")
		}
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks field formats and cross references.
func (s *Spec) Validate() error {
	var problems []string

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate spec: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	if len(s.Registry.Users) > 0 && s.On.RegistryURL == "" {
		problems = append(problems, "registry users are given but on.registry_url is not")
	}

	seen := make(map[string]bool)
	for _, c := range s.ControlPlane.ComputeResources {
		if seen[c.Name] {
			problems = append(problems, fmt.Sprintf("compute resource %q is declared twice", c.Name))
		}
		seen[c.Name] = true
	}

	registryUsers := make(map[string]bool)
	for _, u := range s.Registry.Users {
		registryUsers[u.Username] = true
	}
	for _, p := range s.ControlPlane.Plugins {
		if p.Raw == "" && p.Key().IsEmpty() {
			problems = append(problems, "a plugin has none of name, version, dock_image, public_repo, url")
		}
		if p.Owner != "" && !registryUsers[p.Owner] {
			problems = append(problems, fmt.Sprintf("plugin %q: owner %q is not a registry user", p.Title(), p.Owner))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Spec.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return fmt.Sprintf("%s: %q is not a URL", field, fe.Value())
	case "email":
		return fmt.Sprintf("%s: %q is not an email address", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %q", field, fe.Tag())
	}
}
