package reconcile

import (
	"context"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// UserTask makes sure a user can log in to a server, signing the user up first
// if the credentials are rejected.
type UserTask struct {
	Accounts backend.Accounts
	URL      string
	User     backend.UserSpec
}

var _ engine.Task[backend.Session] = (*UserTask)(nil)

func (t *UserTask) FirstStatus() (string, string) {
	return t.User.Username, "logging in..."
}

func (t *UserTask) Run(ctx context.Context, status *engine.Channel) (engine.Outcome, backend.Session) {
	session, err := t.Accounts.Login(ctx, t.URL, t.User)
	if err == nil {
		status.Replace("logged in")
		return engine.NoChange, session
	}
	if !backend.IsAuthRejected(err) {
		status.Replace(err.Error())
		return engine.Failed, nil
	}

	status.Replace("creating user...")
	if err := t.Accounts.CreateUser(ctx, t.URL, t.User); err != nil {
		status.Replace(err.Error())
		return engine.Failed, nil
	}

	session, err = t.Accounts.Login(ctx, t.URL, t.User)
	if err != nil {
		status.Replace("created, but could not log in: " + err.Error())
		return engine.Failed, nil
	}
	status.Replace("created")
	return engine.Changed, session
}
