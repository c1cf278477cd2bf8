package rest

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/provisioner/pkg/backend"
)

type controlPlane struct {
	client *Client
	url    string
	token  string
	links  collectionLinks
}

func (cp *controlPlane) URL() string { return cp.url }

// adminURL is the root of the administrative API, which lives beside the
// regular API unless the root advertises it.
func (cp *controlPlane) adminURL() string {
	if cp.links.Admin != "" {
		return withSlash(cp.links.Admin)
	}
	return strings.Replace(cp.url, "api/v1/", "chris-admin/api/v1/", 1)
}

func (cp *controlPlane) ComputeResources(ctx context.Context) ([]backend.ComputeResource, error) {
	url := cp.links.ComputeResources
	if url == "" {
		url = cp.url + "computeresources/"
	}
	return paginate[backend.ComputeResource](ctx, cp.client, url, cp.token, false)
}

func (cp *controlPlane) CreateComputeResource(ctx context.Context, spec backend.ComputeResourceSpec) (*backend.ComputeResource, error) {
	if !spec.Complete() {
		return nil, fmt.Errorf("compute resource %q is missing %s", spec.Name, strings.Join(spec.MissingFields(), ", "))
	}
	body := template(
		[2]string{"name", spec.Name},
		[2]string{"compute_url", *spec.URL},
		[2]string{"compute_user", *spec.Username},
		[2]string{"compute_password", *spec.Password},
		[2]string{"description", *spec.Description},
	)
	var created backend.ComputeResource
	url := cp.adminURL() + "computeresources/"
	if err := cp.client.postJSON(ctx, url, cp.token, contentTypeCollection, body, &created); err != nil {
		return nil, fmt.Errorf("failed to create compute resource %q: %w", spec.Name, err)
	}
	return &created, nil
}

func (cp *controlPlane) SearchPlugin(ctx context.Context, key backend.SearchKey) (*backend.Plugin, error) {
	return searchPlugin(ctx, cp.client, cp.url, cp.token, key)
}

func (cp *controlPlane) PluginComputeResources(ctx context.Context, plugin backend.Plugin) ([]backend.ComputeResource, error) {
	url := plugin.ComputeResourcesURL
	if url == "" {
		url = fmt.Sprintf("%splugins/%d/computeresources/", cp.url, plugin.ID)
	}
	return paginate[backend.ComputeResource](ctx, cp.client, url, cp.token, false)
}

// RegisterPlugin asks the control plane to fetch a plugin from a registry
// and register it to a compute resource.
func (cp *controlPlane) RegisterPlugin(ctx context.Context, pluginURL, computeResource string) (*backend.Plugin, error) {
	body := template(
		[2]string{"plugin_store_url", pluginURL},
		[2]string{"compute_names", computeResource},
	)
	var registered backend.Plugin
	if err := cp.client.postJSON(ctx, cp.adminURL(), cp.token, contentTypeCollection, body, &registered); err != nil {
		return nil, err
	}
	return &registered, nil
}

func (cp *controlPlane) Close() error { return nil }
