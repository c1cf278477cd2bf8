package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

var testRetry = RetrySettings{WaitMin: 0, WaitMax: time.Millisecond, MaxAttempts: 3}

func strPtr(s string) *string { return &s }

// world is shared state between fake registries and a fake control plane, so
// that registering a registry URL resolves to the plugin uploaded there.
type world struct {
	mu      sync.Mutex
	catalog map[string]backend.Plugin
	nextID  int
}

func newWorld() *world {
	return &world{catalog: map[string]backend.Plugin{}, nextID: 100}
}

func (w *world) publish(registryURL string, p backend.Plugin) backend.Plugin {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	p.ID = w.nextID
	p.URL = fmt.Sprintf("%splugins/%d/", registryURL, p.ID)
	w.catalog[p.URL] = p
	return p
}

func (w *world) lookup(url string) (backend.Plugin, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.catalog[url]
	return p, ok
}

type cpPlugin struct {
	plugin   backend.Plugin
	computes []string
}

type registerCall struct {
	url, compute string
}

// fakeControlPlane keeps plugins and compute resources in memory.
type fakeControlPlane struct {
	world *world
	url   string

	mu        sync.Mutex
	resources []backend.ComputeResource
	plugins   []*cpPlugin
	creates   int
	calls     []registerCall

	// registerErrs are returned, in order, by RegisterPlugin for a compute resource.
	registerErrs map[string][]error
	// rejectURL makes RegisterPlugin reject plugin URLs with this prefix as invalid.
	rejectURL string
	createErr error
}

func newFakeControlPlane(w *world) *fakeControlPlane {
	return &fakeControlPlane{world: w, url: "http://cube.local/api/v1/", registerErrs: map[string][]error{}}
}

func (f *fakeControlPlane) URL() string { return f.url }

func (f *fakeControlPlane) ComputeResources(context.Context) ([]backend.ComputeResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.ComputeResource(nil), f.resources...), nil
}

func (f *fakeControlPlane) CreateComputeResource(_ context.Context, spec backend.ComputeResourceSpec) (*backend.ComputeResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates++
	c := backend.ComputeResource{ID: len(f.resources) + 1, Name: spec.Name, URL: *spec.URL, Description: *spec.Description}
	f.resources = append(f.resources, c)
	return &c, nil
}

func (f *fakeControlPlane) SearchPlugin(_ context.Context, key backend.SearchKey) (*backend.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plugins {
		if key.Matches(p.plugin) {
			found := p.plugin
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeControlPlane) PluginComputeResources(_ context.Context, plugin backend.Plugin) ([]backend.ComputeResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plugins {
		if p.plugin.ID == plugin.ID {
			var out []backend.ComputeResource
			for _, name := range p.computes {
				out = append(out, backend.ComputeResource{Name: name})
			}
			return out, nil
		}
	}
	return nil, errors.New("no such plugin")
}

func (f *fakeControlPlane) RegisterPlugin(_ context.Context, pluginURL, compute string) (*backend.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, registerCall{pluginURL, compute})

	if errs := f.registerErrs[compute]; len(errs) > 0 {
		f.registerErrs[compute] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	if f.rejectURL != "" && strings.HasPrefix(pluginURL, f.rejectURL) {
		return nil, &backend.BadRequestError{StatusCode: 400, Body: `{"plugin_store_url":["Enter a valid URL."]}`}
	}

	source, ok := f.world.lookup(pluginURL)
	if !ok {
		return nil, &backend.BadRequestError{StatusCode: 400, Body: "no plugin at " + pluginURL}
	}
	for _, p := range f.plugins {
		if p.plugin.Name == source.Name && p.plugin.Version == source.Version {
			p.computes = append(p.computes, compute)
			registered := p.plugin
			return &registered, nil
		}
	}
	registered := source
	registered.ID = 1000 + len(f.plugins)
	registered.URL = fmt.Sprintf("%splugins/%d/", f.url, registered.ID)
	f.plugins = append(f.plugins, &cpPlugin{plugin: registered, computes: []string{compute}})
	return &registered, nil
}

func (f *fakeControlPlane) Close() error { return nil }

func (f *fakeControlPlane) registeredTo(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plugins {
		if p.plugin.Name == name {
			return append([]string(nil), p.computes...)
		}
	}
	return nil
}

// fakeRegistry is a registry, optionally logged in as username.
type fakeRegistry struct {
	world    *world
	url      string
	username string

	mu        sync.Mutex
	plugins   []backend.Plugin
	uploads   []backend.PluginUpload
	searchErr error
	searches  int
}

func newFakeRegistry(w *world, url string) *fakeRegistry {
	return &fakeRegistry{world: w, url: url}
}

func (r *fakeRegistry) add(p backend.Plugin) backend.Plugin {
	p = r.world.publish(r.url, p)
	r.mu.Lock()
	r.plugins = append(r.plugins, p)
	r.mu.Unlock()
	return p
}

func (r *fakeRegistry) URL() string      { return r.url }
func (r *fakeRegistry) Username() string { return r.username }
func (r *fakeRegistry) Close() error     { return nil }

func (r *fakeRegistry) SearchPlugin(_ context.Context, key backend.SearchKey) (*backend.Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches++
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	for _, p := range r.plugins {
		if key.Matches(p) {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeRegistry) FetchPlugin(_ context.Context, url string) (*backend.Plugin, error) {
	p, ok := r.world.lookup(url)
	if !ok || !strings.HasPrefix(url, r.url) {
		return nil, &backend.BadRequestError{StatusCode: 404, Method: "GET", URL: url}
	}
	return &p, nil
}

func (r *fakeRegistry) UploadPlugin(_ context.Context, upload backend.PluginUpload) (*backend.Plugin, error) {
	r.mu.Lock()
	r.uploads = append(r.uploads, upload)
	r.mu.Unlock()
	p := r.add(backend.Plugin{
		Name:       upload.Name,
		Version:    "1.0.0",
		DockImage:  upload.DockImage,
		PublicRepo: upload.PublicRepo,
	})
	return &p, nil
}

// fakeRuntime answers describe invocations from a table of outputs.
type fakeRuntime struct {
	mu      sync.Mutex
	images  map[string]bool
	pulls   []string
	ran     []string
	cmd     []string
	outputs map[string]string
	pullErr error

	// backend is the ID of the labelled control plane container, if any.
	backend string
	execs   [][]string
	onExec  func(cmd []string) (string, int)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{images: map[string]bool{}, outputs: map[string]string{}}
}

func (r *fakeRuntime) HasImage(_ context.Context, image string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[image], nil
}

func (r *fakeRuntime) Pull(_ context.Context, image string, progress func(string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pullErr != nil {
		return r.pullErr
	}
	r.pulls = append(r.pulls, image)
	r.images[image] = true
	progress("Status: Downloaded newer image for " + image)
	return nil
}

func (r *fakeRuntime) RunRemove(_ context.Context, _ string, cmd []string) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := strings.Join(cmd, " ")
	r.ran = append(r.ran, line)
	if out, ok := r.outputs[line]; ok {
		return out, 0, nil
	}
	return "", 127, nil
}

func (r *fakeRuntime) ImageCmd(context.Context, string) ([]string, error) {
	return r.cmd, nil
}

func (r *fakeRuntime) FindByLabel(_ context.Context, label string) (string, error) {
	if label != BackendContainerLabel {
		return "", nil
	}
	return r.backend, nil
}

func (r *fakeRuntime) Exec(_ context.Context, container string, cmd []string) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if container != r.backend {
		return "", 1, nil
	}
	r.execs = append(r.execs, cmd)
	if r.onExec == nil {
		return "", 1, nil
	}
	out, code := r.onExec(cmd)
	return out, code, nil
}

// fakeAccounts authenticates against a map of passwords.
type fakeAccounts struct {
	mu        sync.Mutex
	users     map[string]string
	created   []string
	loginErr  error
	createErr error
}

func (a *fakeAccounts) Login(_ context.Context, url string, user backend.UserSpec) (backend.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	if pw, ok := a.users[user.Username]; !ok || pw != user.Password {
		return nil, &backend.AuthRejectedError{Username: user.Username, URL: url}
	}
	return &fakeRegistry{url: url, username: user.Username}, nil
}

func (a *fakeAccounts) CreateUser(_ context.Context, _ string, user backend.UserSpec) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return a.createErr
	}
	if _, exists := a.users[user.Username]; exists {
		return &backend.BadRequestError{StatusCode: 400, Body: "A user with that username already exists."}
	}
	a.users[user.Username] = user.Password
	a.created = append(a.created, user.Username)
	return nil
}

func (a *fakeAccounts) Anonymous(_ context.Context, url string) (backend.Registry, error) {
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	return &fakeRegistry{url: url}, nil
}

func (a *fakeAccounts) LoginAdmin(ctx context.Context, url string, admin backend.UserSpec) (backend.ControlPlane, error) {
	if _, err := a.Login(ctx, url, admin); err != nil {
		return nil, err
	}
	return &fakeControlPlane{url: url}, nil
}

func run[R any](task engine.Task[R]) (engine.Outcome, R, *engine.Channel) {
	title, first := task.FirstStatus()
	status := engine.NewChannel(title, first)
	outcome, value := task.Run(context.Background(), status)
	return outcome, value, status
}
