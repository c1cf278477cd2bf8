package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openfroyo/provisioner/pkg/backend"
)

var (
	_ backend.Accounts     = (*Client)(nil)
	_ backend.Session      = (*session)(nil)
	_ backend.ControlPlane = (*controlPlane)(nil)
)

// collectionLinks are the top-level links advertised by an API root.
type collectionLinks struct {
	Plugins          string `json:"plugins"`
	ComputeResources string `json:"compute_resources"`
	Admin            string `json:"admin"`
}

type apiRoot struct {
	CollectionLinks collectionLinks `json:"collection_links"`
}

func withSlash(url string) string {
	if strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}

// connect fetches the API root, which also verifies the token if one is given.
func (c *Client) connect(ctx context.Context, url, token string) (collectionLinks, error) {
	var root apiRoot
	if err := c.getJSON(ctx, url, token, &root); err != nil {
		return collectionLinks{}, err
	}
	return root.CollectionLinks, nil
}

// token exchanges credentials for an API token.
func (c *Client) token(ctx context.Context, url string, user backend.UserSpec) (string, error) {
	payload := map[string]string{"username": user.Username, "password": user.Password}
	var res struct {
		Token string `json:"token"`
	}
	err := c.postJSON(ctx, url+"auth-token/", "", contentTypeJSON, payload, &res)
	if br, ok := backend.AsBadRequest(err); ok && br.StatusCode == http.StatusBadRequest {
		return "", &backend.AuthRejectedError{Username: user.Username, URL: url}
	}
	if err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", fmt.Errorf("no token in response of %sauth-token/", url)
	}
	return res.Token, nil
}

// Login implements backend.Accounts.
func (c *Client) Login(ctx context.Context, url string, user backend.UserSpec) (backend.Session, error) {
	url = withSlash(url)
	tok, err := c.token(ctx, url, user)
	if err != nil {
		return nil, err
	}
	links, err := c.connect(ctx, url, tok)
	if err != nil {
		return nil, err
	}
	return &session{
		registry: registry{client: c, url: url, token: tok, links: links},
		username: user.Username,
	}, nil
}

// CreateUser implements backend.Accounts.
func (c *Client) CreateUser(ctx context.Context, url string, user backend.UserSpec) error {
	url = withSlash(url)
	body := template(
		[2]string{"email", user.Email},
		[2]string{"username", user.Username},
		[2]string{"password", user.Password},
	)
	if err := c.postJSON(ctx, url+"users/", "", contentTypeCollection, body, nil); err != nil {
		return fmt.Errorf("failed to create user %q: %w", user.Username, err)
	}
	return nil
}

// Anonymous implements backend.Accounts.
func (c *Client) Anonymous(ctx context.Context, url string) (backend.Registry, error) {
	url = withSlash(url)
	links, err := c.connect(ctx, url, "")
	if err != nil {
		return nil, err
	}
	return &registry{client: c, url: url, links: links}, nil
}

// LoginAdmin implements backend.Accounts.
func (c *Client) LoginAdmin(ctx context.Context, url string, admin backend.UserSpec) (backend.ControlPlane, error) {
	url = withSlash(url)
	tok, err := c.token(ctx, url, admin)
	if err != nil {
		return nil, err
	}
	links, err := c.connect(ctx, url, tok)
	if err != nil {
		return nil, err
	}
	return &controlPlane{client: c, url: url, token: tok, links: links}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
