package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// describeInvocation produces the command to run inside the image, or nil
// if the invocation does not apply.
type describeInvocation func(ctx context.Context) ([]string, error)

// describeInvocations lists, in priority order, the commands which make a
// plugin image print its own descriptor.
func describeInvocations(rt backend.ContainerRuntime, image string, key backend.SearchKey) []describeInvocation {
	return []describeInvocation{
		func(context.Context) ([]string, error) {
			cmd := []string{"chris_plugin_info", "--dock-image", image}
			if key.PublicRepo != "" {
				cmd = append(cmd, "--public-repo", key.PublicRepo)
			}
			if key.Name != "" {
				cmd = append(cmd, "--name", key.Name)
			}
			return cmd, nil
		},
		// images built before chris_plugin_info accepted flags
		func(context.Context) ([]string, error) {
			return []string{"chris_plugin_info"}, nil
		},
		// chrisapp-based images describe themselves through their entrypoint
		func(ctx context.Context) ([]string, error) {
			cmd, err := rt.ImageCmd(ctx, image)
			if err != nil || len(cmd) == 0 {
				return nil, err
			}
			return []string{cmd[0], "--json"}, nil
		},
	}
}

// Describe runs throwaway containers of image until one prints a descriptor.
// The first invocation to exit 0 with non-empty output wins.
func Describe(ctx context.Context, rt backend.ContainerRuntime, image string, key backend.SearchKey, status *engine.Channel) ([]byte, error) {
	logger := zerolog.Ctx(ctx)
	for _, invocation := range describeInvocations(rt, image, key) {
		cmd, err := invocation(ctx)
		if err != nil {
			logger.Debug().Err(err).Str("image", image).Msg("Skipping describe invocation")
			continue
		}
		if cmd == nil {
			continue
		}

		status.Append(fmt.Sprintf("running %s", strings.Join(cmd, " ")))
		out, code, err := rt.RunRemove(ctx, image, cmd)
		if err != nil {
			status.Append(err.Error())
			continue
		}
		if code == 0 && strings.TrimSpace(out) != "" {
			return []byte(out), nil
		}
	}
	return nil, errors.New("no command printed a plugin description")
}

// descriptor is a parsed plugin self-description. Only the fields needed
// for upload are interpreted; the rest is uploaded untouched.
type descriptor struct {
	fields map[string]any
}

func parseDescriptor(data []byte) (*descriptor, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid plugin description: %w", err)
	}
	if fields == nil {
		return nil, errors.New("invalid plugin description: not a JSON object")
	}
	return &descriptor{fields: fields}, nil
}

func (d *descriptor) str(field string) string {
	s, _ := d.fields[field].(string)
	return s
}

// fill sets each of name, dock_image and public_repo to the first non-empty
// value among the descriptor itself, the search key and the inferred info.
func (d *descriptor) fill(key backend.SearchKey, inferred ImageInfo) backend.PluginUpload {
	pick := func(field string, candidates ...string) string {
		for _, c := range append([]string{d.str(field)}, candidates...) {
			if c != "" {
				d.fields[field] = c
				return c
			}
		}
		return ""
	}
	return backend.PluginUpload{
		Name:       pick("name", key.Name, inferred.Name),
		DockImage:  pick("dock_image", key.DockImage, inferred.DockImage),
		PublicRepo: pick("public_repo", key.PublicRepo, inferred.PublicRepo),
	}
}

func (d *descriptor) marshal() ([]byte, error) {
	return json.Marshal(d.fields)
}
