package reconcile

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

const registryURL = "http://store.local/api/v1/"

func TestUserExisting(t *testing.T) {
	accounts := &fakeAccounts{users: map[string]string{"alice": "alice1234"}}
	task := &UserTask{Accounts: accounts, URL: registryURL, User: backend.UserSpec{Username: "alice", Password: "alice1234"}}

	outcome, session, _ := run[backend.Session](task)
	assert.Equal(t, engine.NoChange, outcome)
	require.NotNil(t, session)
	assert.Equal(t, "alice", session.Username())
	assert.Empty(t, accounts.created)
}

func TestUserCreated(t *testing.T) {
	accounts := &fakeAccounts{users: map[string]string{}}
	task := &UserTask{Accounts: accounts, URL: registryURL, User: backend.UserSpec{Username: "bob", Password: "bob1234", Email: "bob@example.org"}}

	outcome, session, status := run[backend.Session](task)
	assert.Equal(t, engine.Changed, outcome)
	require.NotNil(t, session)
	assert.Equal(t, []string{"bob"}, accounts.created)
	assert.Equal(t, "created", status.Last())

	// a second run finds the user
	outcome, _, _ = run[backend.Session](task)
	assert.Equal(t, engine.NoChange, outcome)
}

func TestUserWrongPasswordForExistingUser(t *testing.T) {
	accounts := &fakeAccounts{users: map[string]string{"alice": "alice1234"}}
	task := &UserTask{Accounts: accounts, URL: registryURL, User: backend.UserSpec{Username: "alice", Password: "wrong"}}

	outcome, session, status := run[backend.Session](task)
	assert.Equal(t, engine.Failed, outcome)
	assert.Nil(t, session)
	assert.Contains(t, status.Last(), "already exists")
}

func TestUserRemoteErrors(t *testing.T) {
	accounts := &fakeAccounts{users: map[string]string{}, loginErr: syscall.ECONNREFUSED}
	task := &UserTask{Accounts: accounts, URL: registryURL, User: backend.UserSpec{Username: "carol", Password: "x"}}

	outcome, _, _ := run[backend.Session](task)
	assert.Equal(t, engine.Failed, outcome)
	assert.Empty(t, accounts.created)

	accounts = &fakeAccounts{users: map[string]string{}, createErr: errors.New("signup closed")}
	task.Accounts = accounts
	outcome, _, status := run[backend.Session](task)
	assert.Equal(t, engine.Failed, outcome)
	assert.Equal(t, "signup closed", status.Last())
}

func TestPeerConnectionAndAdminLogin(t *testing.T) {
	accounts := &fakeAccounts{users: map[string]string{"chris": "chris1234"}}

	outcome, peer, _ := run[backend.Registry](&PeerConnection{Accounts: accounts, URL: "https://cube.chrisproject.org/api/v1/"})
	assert.Equal(t, engine.NoChange, outcome)
	assert.Equal(t, "https://cube.chrisproject.org/api/v1/", peer.URL())

	outcome, cp, _ := run[backend.ControlPlane](&AdminLogin{Accounts: accounts, URL: "http://cube/api/v1/", Admin: backend.UserSpec{Username: "chris", Password: "chris1234"}})
	assert.Equal(t, engine.NoChange, outcome)
	require.NotNil(t, cp)

	outcome, _, status := run[backend.ControlPlane](&AdminLogin{Accounts: accounts, URL: "http://cube/api/v1/", Admin: backend.UserSpec{Username: "chris", Password: "nope"}})
	assert.Equal(t, engine.Failed, outcome)
	assert.Contains(t, status.Last(), "rejected")

	broken := &fakeAccounts{loginErr: errors.New("dns failure")}
	outcome, _, _ = run[backend.Registry](&PeerConnection{Accounts: broken, URL: "https://nowhere/"})
	assert.Equal(t, engine.Failed, outcome)
}

func TestRetrySettingsPolicy(t *testing.T) {
	var ops []string
	s := RetrySettings{WaitMin: time.Millisecond, WaitMax: 2 * time.Millisecond, MaxAttempts: 5, OnRetry: func(op string) { ops = append(ops, op) }}

	p := s.policy("search", engine.IsDisconnect)
	assert.Equal(t, 5, p.MaxAttempts)
	p.OnRetry(1, nil)
	assert.Equal(t, []string{"search"}, ops)

	p = RetrySettings{}.policy("search", engine.IsDisconnect)
	assert.Equal(t, engine.DefaultRetryPolicy(nil).MaxAttempts, p.MaxAttempts)
	assert.Nil(t, p.OnRetry)
}
