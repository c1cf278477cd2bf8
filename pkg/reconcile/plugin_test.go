package reconcile

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

const (
	homeURL   = "http://store.local/api/v1/"
	publicURL = "https://cube.chrisproject.org/api/v1/"
)

type pluginFixture struct {
	world   *world
	cp      *fakeControlPlane
	home    *fakeRegistry
	public  *fakeRegistry
	runtime *fakeRuntime
}

func newPluginFixture() *pluginFixture {
	w := newWorld()
	home := newFakeRegistry(w, homeURL)
	home.username = "chris"
	return &pluginFixture{
		world:   w,
		cp:      newFakeControlPlane(w),
		home:    home,
		public:  newFakeRegistry(w, publicURL),
		runtime: newFakeRuntime(),
	}
}

func (f *pluginFixture) task(key backend.SearchKey, computes ...string) *PluginTask {
	return &PluginTask{
		Plugin:       backend.PluginSpec{Key: key, ComputeResources: computes, Owner: "chris"},
		ControlPlane: f.cp,
		Home:         f.home,
		Peers:        []backend.Registry{f.public},
		Runtime:      f.runtime,
		Retry:        testRetry,
	}
}

var dircopy = backend.Plugin{Name: "pl-dircopy", Version: "2.1.1", DockImage: "ghcr.io/fnndsc/pl-dircopy:2.1.1"}

func TestPluginEmptyKey(t *testing.T) {
	f := newPluginFixture()
	outcome, reg, status := run[*Registration](f.task(backend.SearchKey{}, "host"))
	assert.Equal(t, engine.Failed, outcome)
	assert.Nil(t, reg)
	assert.NotEmpty(t, status.Last())
}

func TestPluginFromPeerRegistry(t *testing.T) {
	f := newPluginFixture()
	published := f.public.add(dircopy)

	outcome, reg, status := run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host", "moc"))
	assert.Equal(t, engine.Changed, outcome)
	require.NotNil(t, reg)
	assert.Equal(t, PeerRegistry, reg.Origin)
	assert.Equal(t, published.URL, reg.OriginURL)
	assert.Equal(t, "pl-dircopy", reg.Plugin.Name)
	assert.Equal(t, []string{"host", "moc"}, f.cp.registeredTo("pl-dircopy"))
	assert.Equal(t, "pl-dircopy@2.1.1", status.Title())
}

func TestPluginFromHomeRegistry(t *testing.T) {
	f := newPluginFixture()
	f.home.add(dircopy)
	f.public.add(dircopy)

	outcome, reg, _ := run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host"))
	assert.Equal(t, engine.Changed, outcome)
	assert.Equal(t, LocalRegistry, reg.Origin)
	assert.Zero(t, f.public.searches)
}

func TestPluginPeerSearchErrorSkipsPeer(t *testing.T) {
	f := newPluginFixture()
	f.home.searchErr = errors.New("internal server error")
	f.public.add(dircopy)

	outcome, reg, status := run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host"))
	assert.Equal(t, engine.Changed, outcome)
	assert.Equal(t, PeerRegistry, reg.Origin)
	// non-retryable: searched once
	assert.Equal(t, 1, f.home.searches)
	assert.Contains(t, status.String(), "internal server error")
}

func TestPluginFromRegistryURL(t *testing.T) {
	f := newPluginFixture()
	published := f.public.add(dircopy)
	task := f.task(backend.SearchKey{URL: published.URL}, "host", "moc")

	outcome, reg, status := run[*Registration](task)
	assert.Equal(t, engine.Changed, outcome, status.String())
	require.NotNil(t, reg)
	assert.Equal(t, PeerRegistry, reg.Origin)
	assert.Equal(t, published.URL, reg.OriginURL)
	assert.Equal(t, []string{"host", "moc"}, f.cp.registeredTo("pl-dircopy"))
	assert.Equal(t, "pl-dircopy@2.1.1", status.Title())
	assert.Zero(t, f.public.searches)

	outcome, reg, _ = run[*Registration](task)
	assert.Equal(t, engine.NoChange, outcome)
	assert.Equal(t, AlreadyPresent, reg.Origin)
}

func TestPluginFromUnknownRegistryURL(t *testing.T) {
	f := newPluginFixture()
	outcome, reg, status := run[*Registration](f.task(backend.SearchKey{URL: "https://elsewhere.org/api/v1/plugins/3/"}, "host"))
	assert.Equal(t, engine.Failed, outcome)
	assert.Nil(t, reg)
	assert.Contains(t, status.Last(), "not served by")
	assert.Empty(t, f.cp.calls)
}

func TestPluginIdempotent(t *testing.T) {
	f := newPluginFixture()
	f.public.add(dircopy)
	task := f.task(backend.SearchKey{Name: "pl-dircopy", Version: "2.1.1"}, "host", "moc")

	outcome, _, _ := run[*Registration](task)
	require.Equal(t, engine.Changed, outcome)

	outcome, reg, _ := run[*Registration](task)
	assert.Equal(t, engine.NoChange, outcome)
	assert.Equal(t, AlreadyPresent, reg.Origin)
	assert.Len(t, f.cp.calls, 2)
}

func TestPluginAlreadyPresentMissingComputes(t *testing.T) {
	f := newPluginFixture()
	f.public.add(dircopy)
	_, _, _ = run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host"))

	outcome, reg, status := run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host", "moc", "hpc"))
	assert.Equal(t, engine.Changed, outcome)
	assert.Equal(t, AlreadyPresent, reg.Origin)
	assert.Equal(t, []string{"host", "moc", "hpc"}, f.cp.registeredTo("pl-dircopy"))
	assert.Contains(t, status.String(), "missing from moc, hpc")
}

func TestPluginAlreadyPresentWithoutRegistryCopy(t *testing.T) {
	f := newPluginFixture()
	image := "ghcr.io/fnndsc/pl-hello:1.0.0"
	f.cp.plugins = append(f.cp.plugins, &cpPlugin{
		plugin:   backend.Plugin{ID: 1000, Name: "pl-hello", Version: "1.0.0", DockImage: image, URL: f.cp.url + "plugins/1000/"},
		computes: []string{"host"},
	})
	f.runtime.outputs["chris_plugin_info --dock-image "+image+" --name pl-hello"] = `{"type": "ds", "version": "1.0.0"}`

	outcome, reg, status := run[*Registration](f.task(backend.SearchKey{Name: "pl-hello"}, "host", "moc"))
	assert.Equal(t, engine.Changed, outcome, status.String())
	require.NotNil(t, reg)
	assert.Equal(t, SynthesizedFromContainer, reg.Origin)
	require.Len(t, f.home.uploads, 1)
	assert.Equal(t, image, f.home.uploads[0].DockImage)
	assert.Equal(t, []string{"host", "moc"}, f.cp.registeredTo("pl-hello"))
	require.Len(t, f.cp.calls, 1)
	assert.Equal(t, "moc", f.cp.calls[0].compute)
}

// Two of three registrations succeed; the error still fails the task.
func TestPluginPartialRegistrationFails(t *testing.T) {
	f := newPluginFixture()
	f.public.add(dircopy)
	f.cp.registerErrs["moc"] = []error{&backend.BadRequestError{StatusCode: 400, Body: "compute resource is full"}}

	outcome, reg, status := run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host", "moc", "hpc"))
	assert.Equal(t, engine.Failed, outcome)
	require.NotNil(t, reg)
	require.NotNil(t, reg.Plugin)
	assert.Equal(t, []string{"host", "hpc"}, f.cp.registeredTo("pl-dircopy"))
	assert.Contains(t, status.Last(), "moc")
}

func TestPluginRegistrationRetriesBenignConflict(t *testing.T) {
	f := newPluginFixture()
	f.public.add(dircopy)
	f.cp.registerErrs["host"] = []error{
		&backend.BadRequestError{StatusCode: 400, Body: `{"non_field_errors":["Could not register plugin"]}`},
		io.ErrUnexpectedEOF,
	}

	outcome, _, status := run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host"))
	assert.Equal(t, engine.Changed, outcome)
	assert.Len(t, f.cp.calls, 3)
	assert.Contains(t, status.String(), "attempt 2/3")
}

func TestPluginLocalhostWorkaround(t *testing.T) {
	f := newPluginFixture()
	f.cp.url = "http://localhost:8000/api/v1/"
	f.cp.rejectURL = publicURL
	published := f.public.add(dircopy)
	// the control plane can reach the same plugin through its own address
	f.world.catalog["http://localhost:8000/api/v1/plugins/"+itoa(published.ID)+"/"] = published

	outcome, _, status := run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host"))
	assert.Equal(t, engine.Changed, outcome)
	assert.Contains(t, status.String(), "retrying with http://localhost:8000/api/v1/plugins/")
	require.Len(t, f.cp.calls, 2)
	assert.Equal(t, published.URL, f.cp.calls[0].url)
}

func TestPluginNoWorkaroundForRemoteControlPlane(t *testing.T) {
	f := newPluginFixture()
	f.cp.rejectURL = publicURL
	f.public.add(dircopy)

	outcome, _, _ := run[*Registration](f.task(backend.SearchKey{Name: "pl-dircopy"}, "host"))
	assert.Equal(t, engine.Failed, outcome)
	assert.Len(t, f.cp.calls, 1)
}

func TestPluginSynthesizedFromContainer(t *testing.T) {
	f := newPluginFixture()
	image := "ghcr.io/fnndsc/pl-hello:1.0.0"
	f.runtime.outputs["chris_plugin_info --dock-image "+image] = `{"type": "ds", "version": "1.0.0"}`

	outcome, reg, status := run[*Registration](f.task(backend.SearchKey{DockImage: image}, "host"))
	assert.Equal(t, engine.Changed, outcome, status.String())
	require.NotNil(t, reg)
	assert.Equal(t, SynthesizedFromContainer, reg.Origin)
	assert.Equal(t, []string{image}, f.runtime.pulls)
	assert.Equal(t, []string{"host"}, f.cp.registeredTo("pl-hello"))

	require.Len(t, f.home.uploads, 1)
	upload := f.home.uploads[0]
	assert.Equal(t, "pl-hello", upload.Name)
	assert.Equal(t, image, upload.DockImage)
	assert.Equal(t, "https://github.com/fnndsc/pl-hello", upload.PublicRepo)

	var desc map[string]any
	require.NoError(t, json.Unmarshal(upload.Descriptor, &desc))
	assert.Equal(t, "ds", desc["type"])
	assert.Equal(t, "pl-hello", desc["name"])

	// a second run finds it on the control plane
	outcome, _, _ = run[*Registration](f.task(backend.SearchKey{DockImage: image}, "host"))
	assert.Equal(t, engine.NoChange, outcome)
	assert.Len(t, f.home.uploads, 1)
}

func TestPluginSynthesizedFromLegacyEntrypoint(t *testing.T) {
	f := newPluginFixture()
	image := "fnndsc/pl-simpledsapp:2.0.0"
	f.runtime.images[image] = true
	f.runtime.cmd = []string{"simpledsapp"}
	f.runtime.outputs["simpledsapp --json"] = `{"type": "ds", "name": "simpledsapp"}`

	outcome, reg, _ := run[*Registration](f.task(backend.SearchKey{DockImage: image}, "host"))
	assert.Equal(t, engine.Changed, outcome)
	assert.Equal(t, SynthesizedFromContainer, reg.Origin)
	assert.Empty(t, f.runtime.pulls)
	assert.Equal(t, []string{
		"chris_plugin_info --dock-image " + image,
		"chris_plugin_info",
		"simpledsapp --json",
	}, f.runtime.ran)
	assert.Equal(t, "simpledsapp", f.home.uploads[0].Name)
}

func TestPluginSynthesizeFailures(t *testing.T) {
	image := "fnndsc/pl-hello:1.0.0"

	t.Run("no runtime", func(t *testing.T) {
		f := newPluginFixture()
		task := f.task(backend.SearchKey{DockImage: image}, "host")
		task.Runtime = nil
		outcome, _, status := run[*Registration](task)
		assert.Equal(t, engine.Failed, outcome)
		assert.Equal(t, "no container runtime available", status.Last())
	})

	t.Run("no image", func(t *testing.T) {
		f := newPluginFixture()
		outcome, _, _ := run[*Registration](f.task(backend.SearchKey{Name: "pl-hello"}, "host"))
		assert.Equal(t, engine.Failed, outcome)
	})

	t.Run("no home registry", func(t *testing.T) {
		f := newPluginFixture()
		task := f.task(backend.SearchKey{DockImage: image}, "host")
		task.Home = nil
		outcome, _, status := run[*Registration](task)
		assert.Equal(t, engine.Failed, outcome)
		assert.Contains(t, status.Last(), `owner "chris"`)
	})

	t.Run("pull fails", func(t *testing.T) {
		f := newPluginFixture()
		f.runtime.pullErr = errors.New("manifest unknown")
		outcome, _, status := run[*Registration](f.task(backend.SearchKey{DockImage: image}, "host"))
		assert.Equal(t, engine.Failed, outcome)
		assert.Equal(t, "manifest unknown", status.Last())
	})

	t.Run("nothing describes the image", func(t *testing.T) {
		f := newPluginFixture()
		outcome, _, _ := run[*Registration](f.task(backend.SearchKey{DockImage: image}, "host"))
		assert.Equal(t, engine.Failed, outcome)
		assert.Empty(t, f.home.uploads)
	})

	t.Run("invalid description", func(t *testing.T) {
		f := newPluginFixture()
		f.runtime.outputs["chris_plugin_info --dock-image "+image] = "usage: chris_plugin_info"
		outcome, _, status := run[*Registration](f.task(backend.SearchKey{DockImage: image}, "host"))
		assert.Equal(t, engine.Failed, outcome)
		assert.Contains(t, status.Last(), "invalid plugin description")
	})
}

func TestMissingComputeResources(t *testing.T) {
	current := []backend.ComputeResource{{Name: "moc"}}
	assert.Equal(t, []string{"host", "hpc"}, missingComputeResources([]string{"host", "moc", "hpc"}, current))
	assert.Nil(t, missingComputeResources([]string{"moc"}, current))
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
