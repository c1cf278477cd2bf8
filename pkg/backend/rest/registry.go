package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/openfroyo/provisioner/pkg/backend"
)

type registry struct {
	client *Client
	url    string
	token  string
	links  collectionLinks
}

func (r *registry) URL() string { return r.url }

func (r *registry) SearchPlugin(ctx context.Context, key backend.SearchKey) (*backend.Plugin, error) {
	return searchPlugin(ctx, r.client, r.url, r.token, key)
}

func (r *registry) FetchPlugin(ctx context.Context, url string) (*backend.Plugin, error) {
	var plugin backend.Plugin
	if err := r.client.getJSON(ctx, url, r.token, &plugin); err != nil {
		return nil, err
	}
	return &plugin, nil
}

// searchPlugin returns the first search result which matches every field of
// key. Servers ignore query parameters they do not know, so results are
// checked again here.
func searchPlugin(ctx context.Context, c *Client, base, token string, key backend.SearchKey) (*backend.Plugin, error) {
	url := base + "plugins/search/?" + key.Params().Encode()
	found, err := paginate[backend.Plugin](ctx, c, url, token, true)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if key.Matches(found[i]) {
			return &found[i], nil
		}
	}
	return nil, nil
}

func (r *registry) pluginsURL() string {
	if r.links.Plugins != "" {
		return r.links.Plugins
	}
	return r.url + "plugins/"
}

type session struct {
	registry
	username string
}

func (s *session) Username() string { return s.username }

// UploadPlugin posts the descriptor as a multipart form.
func (s *session) UploadPlugin(ctx context.Context, upload backend.PluginUpload) (*backend.Plugin, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for _, field := range [][2]string{
		{"name", upload.Name},
		{"dock_image", upload.DockImage},
		{"public_repo", upload.PublicRepo},
	} {
		if err := form.WriteField(field[0], field[1]); err != nil {
			return nil, err
		}
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="descriptor_file"; filename="%s.json"`, upload.Name))
	header.Set("Content-Type", contentTypeJSON)
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(upload.Descriptor); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	data, err := s.client.do(ctx, request{
		method:      http.MethodPost,
		url:         s.pluginsURL(),
		token:       s.token,
		body:        buf.Bytes(),
		contentType: form.FormDataContentType(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", upload.Name, err)
	}
	var plugin backend.Plugin
	if err := json.Unmarshal(data, &plugin); err != nil {
		return nil, fmt.Errorf("failed to decode uploaded plugin: %w", err)
	}
	return &plugin, nil
}

func (s *session) Close() error { return nil }
