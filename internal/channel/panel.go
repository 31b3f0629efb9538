package channel

import (
	"context"
	"fmt"
	"net/http"

	"panelctl/internal/telemetry"
	"panelctl/internal/transport"
	"panelctl/pkg/sdk"
)

// PanelFetcher fetches console credentials from the panel API. Access
// errors (401, 403, 404) are fatal for the transport.
func PanelFetcher(client *sdk.Client) transport.CredentialFetcher {
	return transport.FetcherFunc(func(ctx context.Context, serverID string) (*transport.Credential, error) {
		details, err := client.Websocket(ctx, serverID)
		if err != nil {
			if sdk.IsAuthError(err) {
				return nil, fmt.Errorf("%w: %v", transport.ErrAuthFatal, err)
			}
			return nil, err
		}
		return transport.NewCredential(details.Token, details.Socket)
	})
}

// ApplyServer copies the panel's view of a server into opts: its
// limits, maintenance flag and install or transfer state. The daemon
// checks the handshake Origin against the panel URL.
func ApplyServer(opts *Options, client *sdk.Client, srv *sdk.Server) {
	opts.Limits = serverLimits(srv)
	opts.Maintenance = srv.IsNodeUnderMaintenance
	opts.Installing = srv.IsInstalling || srv.Status == "installing"
	opts.Transferring = srv.IsTransferring
	if opts.Header == nil {
		opts.Header = http.Header{}
	}
	opts.Header.Set("Origin", client.BaseURL())
}

// ApplyPanel feeds a fresher panel record of the server into an open
// channel. The panel is the only source of the node maintenance flag,
// so a long-lived view polls it and applies every result.
func (c *Channel) ApplyPanel(srv *sdk.Server) error {
	if err := c.SetLimits(serverLimits(srv)); err != nil {
		return err
	}
	return c.SetMaintenance(srv.IsNodeUnderMaintenance)
}

func serverLimits(srv *sdk.Server) telemetry.Limits {
	return telemetry.Limits{
		MemoryMiB: srv.Limits.Memory,
		DiskMiB:   srv.Limits.Disk,
		CPU:       srv.Limits.CPU,
	}
}
