package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// BackendContainerLabel marks the container serving the control plane.
const BackendContainerLabel = "org.chrisproject.role=ChRIS ultron backEnd"

// AdminLogin logs in as the control plane's administrator. If the
// credentials are rejected and a container runtime is available, the
// administrator is created inside the control plane's container first.
type AdminLogin struct {
	Accounts backend.Accounts
	URL      string
	Admin    backend.UserSpec

	// Runtime reaches the control plane's container. Nil disables creation.
	Runtime backend.ContainerRuntime
}

var _ engine.Task[backend.ControlPlane] = (*AdminLogin)(nil)

func (a *AdminLogin) FirstStatus() (string, string) {
	return a.Admin.Username, "logging in to " + a.URL
}

func (a *AdminLogin) Run(ctx context.Context, status *engine.Channel) (engine.Outcome, backend.ControlPlane) {
	cp, err := a.Accounts.LoginAdmin(ctx, a.URL, a.Admin)
	if err == nil {
		status.Replace("logged in")
		return engine.NoChange, cp
	}
	if !backend.IsAuthRejected(err) {
		status.Replace(err.Error())
		return engine.Failed, nil
	}
	if a.Runtime == nil {
		status.Replace("administrator credentials rejected and no container runtime available to create the superuser")
		return engine.Failed, nil
	}

	status.Replace(fmt.Sprintf("creating superuser %q...", a.Admin.Username))
	if err := a.createSuperuser(ctx); err != nil {
		status.Replace(err.Error())
		return engine.Failed, nil
	}

	cp, err = a.Accounts.LoginAdmin(ctx, a.URL, a.Admin)
	if err != nil {
		status.Replace("failed to log in as the created superuser: " + err.Error())
		return engine.Failed, nil
	}
	status.Replace(fmt.Sprintf("superuser %q created", a.Admin.Username))
	return engine.Changed, cp
}

func (a *AdminLogin) createSuperuser(ctx context.Context) error {
	id, err := a.Runtime.FindByLabel(ctx, BackendContainerLabel)
	if err != nil {
		return err
	}
	if id == "" {
		return engine.NewPermanentError("no container found with label "+BackendContainerLabel, nil).
			WithCode(engine.ErrCodeMissingConfig)
	}

	out, code, err := a.Runtime.Exec(ctx, id, SuperuserCommand(a.Admin))
	if err != nil {
		return err
	}
	if code != 0 || strings.TrimSpace(out) != a.Admin.Username {
		return engine.NewPermanentError(fmt.Sprintf("failed to create superuser (exit code %d): %s", code, strings.TrimSpace(out)), nil).
			WithResource(a.Admin.Username)
	}
	return nil
}

// SuperuserCommand is the command which creates user as a superuser inside
// the control plane's container. It prints the username on success.
func SuperuserCommand(user backend.UserSpec) []string {
	email := user.Email
	if email == "" {
		email = user.Username + "@example.org"
	}
	script := strings.Join([]string{
		"from django.contrib.auth.models import User",
		fmt.Sprintf("user = User.objects.create_superuser(username=%s, password=%s, email=%s)",
			strconv.Quote(user.Username), strconv.Quote(user.Password), strconv.Quote(email)),
		"print(user.username, end='')",
	}, "\n")
	return []string{"python", "manage.py", "shell", "-c", script}
}
