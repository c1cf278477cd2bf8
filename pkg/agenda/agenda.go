// Package agenda applies an expanded spec to a control plane: it builds the
// reconciling tasks of every group, runs them in dependency order and
// aggregates their outcomes.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/config"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/reconcile"
	"github.com/openfroyo/provisioner/pkg/telemetry"
)

// ErrAborted is returned when a prerequisite failed and the remaining
// groups were not attempted.
var ErrAborted = errors.New("agenda aborted")

// Agenda applies one expanded spec.
type Agenda struct {
	Spec     *config.Expanded
	Accounts backend.Accounts

	// Runtime synthesizes plugins from images. Nil disables synthesis.
	Runtime backend.ContainerRuntime

	Retry reconcile.RetrySettings

	WaitTimeout  time.Duration
	WaitInterval time.Duration
	// WaitClient polls servers until they are up. Defaults to http.DefaultClient.
	WaitClient *http.Client

	Table    engine.TableConfig
	Out      io.Writer
	Observer engine.Observer
	Tracer   *telemetry.Tracer
	Logger   zerolog.Logger
}

// Run applies the spec. The summary counts every task that ran; the error
// is non-nil only when the agenda was aborted.
func (a *Agenda) Run(ctx context.Context) (_ *Summary, err error) {
	summary := newSummary(uuid.NewString())
	logger := a.Logger.With().Str("run_id", summary.RunID).Logger()
	ctx = logger.WithContext(ctx)

	if a.Tracer != nil {
		spanCtx, span := a.Tracer.StartRunSpan(ctx, summary.RunID)
		ctx = spanCtx
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	start := time.Now()
	logger.Info().
		Str("control_plane", a.Spec.ControlPlaneURL).
		Str("trace_id", telemetry.TraceID(ctx)).
		Msg("Applying spec")

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Debug().Err(err).Msg("Failed to close session")
			}
		}
	}()

	if !a.waitForBackends(ctx, summary) {
		return summary, fmt.Errorf("%w: backend is not up", ErrAborted)
	}

	cp := a.adminLogin(ctx, summary)
	if cp == nil {
		return summary, fmt.Errorf("%w: cannot log in as administrator", ErrAborted)
	}
	closers = append(closers, cp)

	peers := a.connectPeers(ctx, summary)

	if crErr := a.computeResources(ctx, summary, cp); crErr != nil {
		return summary, fmt.Errorf("%w: %w", ErrAborted, crErr)
	}

	home := a.users(ctx, summary, "registry-user", "Creating registry users", a.Spec.RegistryURL, a.Spec.RegistryUsers)
	for _, s := range home {
		closers = append(closers, s)
	}
	for _, s := range a.users(ctx, summary, "user", "Creating users", a.Spec.ControlPlaneURL, a.Spec.ControlPlaneUsers) {
		closers = append(closers, s)
	}

	a.plugins(ctx, summary, cp, home, peers)

	logger.Info().
		Int("changed", summary.Changed()).
		Int("failed", summary.Failed()).
		Dur("duration", time.Since(start)).
		Msg("Spec applied")
	return summary, nil
}

func (a *Agenda) waitForBackends(ctx context.Context, summary *Summary) bool {
	urls := []string{a.Spec.ControlPlaneURL + "users/"}
	if a.Spec.RegistryURL != "" {
		urls = append(urls, a.Spec.RegistryURL+"users/")
	}

	tasks := make([]engine.Task[time.Duration], len(urls))
	for i, url := range urls {
		tasks[i] = &reconcile.WaitUp{
			URL:      url,
			Interval: a.WaitInterval,
			Timeout:  a.WaitTimeout,
			Client:   a.WaitClient,
		}
	}

	table := a.Table
	if table.PollInterval <= 0 && a.WaitInterval > 0 {
		table.PollInterval = a.WaitInterval / 4
	}
	runner := &engine.TableRunner[time.Duration]{Kind: "wait-up", Out: a.Out, Config: table, Observer: a.Observer}
	results := runner.Apply(ctx, tasks)
	add(summary, results)
	return engine.CombineAll(engine.OutcomesOf(results)...) != engine.Failed
}

func (a *Agenda) adminLogin(ctx context.Context, summary *Summary) backend.ControlPlane {
	task := &reconcile.AdminLogin{
		Accounts: a.Accounts,
		URL:      a.Spec.ControlPlaneURL,
		Admin:    a.Spec.Admin,
		Runtime:  a.Runtime,
	}
	runner := &engine.TableRunner[backend.ControlPlane]{Kind: "admin", Out: a.Out, Config: a.Table, Observer: a.Observer}
	results := runner.Apply(ctx, []engine.Task[backend.ControlPlane]{task})
	add(summary, results)
	if results[0].Outcome == engine.Failed {
		return nil
	}
	return results[0].Value
}

// connectPeers returns the peer registries which could be reached.
func (a *Agenda) connectPeers(ctx context.Context, summary *Summary) []backend.Registry {
	if len(a.Spec.PublicRegistries) == 0 {
		return nil
	}

	tasks := make([]engine.Task[backend.Registry], len(a.Spec.PublicRegistries))
	for i, url := range a.Spec.PublicRegistries {
		tasks[i] = &reconcile.PeerConnection{Accounts: a.Accounts, URL: url}
	}
	runner := &engine.ProgressRunner[backend.Registry]{
		Kind:     "peer",
		Title:    "Connecting to public registries",
		Quiet:    true,
		Out:      a.Out,
		Observer: a.Observer,
	}
	results := runner.Apply(ctx, tasks)
	add(summary, results)

	var good []backend.Registry
	var broken []string
	for i, r := range results {
		if r.Outcome == engine.Failed || r.Value == nil {
			broken = append(broken, a.Spec.PublicRegistries[i])
			continue
		}
		good = append(good, r.Value)
	}
	if len(broken) > 0 {
		zerolog.Ctx(ctx).Warn().Strs("peers", broken).Msg("Broken peer registries are skipped")
	}
	return good
}

func (a *Agenda) computeResources(ctx context.Context, summary *Summary, cp backend.ControlPlane) error {
	if len(a.Spec.ComputeResources) == 0 {
		return nil
	}

	existing, err := cp.ComputeResources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list compute resources: %w", err)
	}
	names := make([]string, len(existing))
	for i, c := range existing {
		names[i] = c.Name
	}
	fmt.Fprintf(outOrStdout(a.Out), "Existing compute resources: %s\n", strings.Join(names, ", "))

	tasks := make([]engine.Task[*backend.ComputeResource], len(a.Spec.ComputeResources))
	for i, desired := range a.Spec.ComputeResources {
		tasks[i] = &reconcile.ComputeResourceTask{ControlPlane: cp, Desired: desired, Existing: existing}
	}
	runner := &engine.ProgressRunner[*backend.ComputeResource]{
		Kind:     "compute-resource",
		Title:    "Adding compute resources",
		Out:      a.Out,
		Observer: a.Observer,
	}
	add(summary, runner.Apply(ctx, tasks))
	return nil
}

// users reconciles accounts at url and returns the sessions of the users
// which exist afterwards, keyed by username.
func (a *Agenda) users(ctx context.Context, summary *Summary, kind, title, url string, users []backend.UserSpec) map[string]backend.Session {
	sessions := make(map[string]backend.Session)
	if len(users) == 0 {
		return sessions
	}

	tasks := make([]engine.Task[backend.Session], len(users))
	for i, u := range users {
		tasks[i] = &reconcile.UserTask{Accounts: a.Accounts, URL: url, User: u}
	}
	runner := &engine.ProgressRunner[backend.Session]{Kind: kind, Title: title, Out: a.Out, Observer: a.Observer}
	results := runner.Apply(ctx, tasks)
	add(summary, results)

	for i, r := range results {
		if r.Outcome != engine.Failed && r.Value != nil {
			sessions[users[i].Username] = r.Value
		}
	}
	return sessions
}

func (a *Agenda) plugins(ctx context.Context, summary *Summary, cp backend.ControlPlane, home map[string]backend.Session, peers []backend.Registry) {
	if len(a.Spec.Plugins) == 0 {
		return
	}

	tasks := make([]engine.Task[*reconcile.Registration], len(a.Spec.Plugins))
	for i, p := range a.Spec.Plugins {
		task := &reconcile.PluginTask{
			Plugin:       p,
			ControlPlane: cp,
			Peers:        peers,
			Runtime:      a.Runtime,
			Retry:        a.Retry,
		}
		if s, ok := home[p.Owner]; ok {
			task.Home = s
		}
		tasks[i] = task
	}
	runner := &engine.TableRunner[*reconcile.Registration]{Kind: "plugin", Out: a.Out, Config: a.Table, Observer: a.Observer}
	results := runner.Apply(ctx, tasks)
	add(summary, results)

	for _, r := range results {
		if r.Value == nil {
			continue
		}
		zerolog.Ctx(ctx).Debug().
			Str("plugin", r.Value.Plugin.String()).
			Str("origin", r.Value.Origin.String()).
			Str("url", r.Value.OriginURL).
			Msg("Plugin registered")
	}
}

func outOrStdout(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
