package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var list struct {
		Data []struct {
			Attributes Server `json:"attributes"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/api/client", &list); err != nil {
		return nil, err
	}
	servers := make([]Server, 0, len(list.Data))
	for _, item := range list.Data {
		servers = append(servers, item.Attributes)
	}
	return servers, nil
}

func (c *Client) GetServer(ctx context.Context, id string) (*Server, error) {
	var item struct {
		Attributes Server `json:"attributes"`
	}
	if err := c.get(ctx, serverPath(id, ""), &item); err != nil {
		return nil, err
	}
	return &item.Attributes, nil
}

// Websocket returns fresh connection details for the server console.
func (c *Client) Websocket(ctx context.Context, id string) (*WebsocketDetails, error) {
	var resp struct {
		Data WebsocketDetails `json:"data"`
	}
	if err := c.get(ctx, serverPath(id, "/websocket"), &resp); err != nil {
		return nil, err
	}
	if resp.Data.Token == "" || resp.Data.Socket == "" {
		return nil, fmt.Errorf("websocket details for %s: empty token or socket", id)
	}
	return &resp.Data, nil
}

// Resources returns the panel's last known usage for the server.
func (c *Client) Resources(ctx context.Context, id string) (*ResourceUsage, error) {
	var resp struct {
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := c.get(ctx, serverPath(id, "/resources"), &resp); err != nil {
		return nil, err
	}
	usage := &ResourceUsage{Raw: resp.Attributes}
	if err := json.Unmarshal(resp.Attributes, usage); err != nil {
		return nil, fmt.Errorf("decode resources for %s: %w", id, err)
	}
	return usage, nil
}

func serverPath(id, suffix string) string {
	return "/api/client/servers/" + url.PathEscape(id) + suffix
}
