package sdk

import "encoding/json"

type Server struct {
	Identifier             string `json:"identifier"`
	UUID                   string `json:"uuid"`
	Name                   string `json:"name"`
	Node                   string `json:"node"`
	Description            string `json:"description"`
	Status                 string `json:"status"`
	IsNodeUnderMaintenance bool   `json:"is_node_under_maintenance"`
	IsSuspended            bool   `json:"is_suspended"`
	IsInstalling           bool   `json:"is_installing"`
	IsTransferring         bool   `json:"is_transferring"`
	Limits                 Limits `json:"limits"`
}

// Limits are the server's allocations. Memory and disk are in MiB, cpu
// in percent of one core. Zero means unlimited.
type Limits struct {
	Memory uint64 `json:"memory"`
	Swap   int64  `json:"swap"`
	Disk   uint64 `json:"disk"`
	IO     uint64 `json:"io"`
	CPU    uint64 `json:"cpu"`
}

type WebsocketDetails struct {
	Token  string `json:"token"`
	Socket string `json:"socket"`
}

type ResourceUsage struct {
	CurrentState string `json:"current_state"`
	IsSuspended  bool   `json:"is_suspended"`
	// Raw is the full attributes document, including the nested
	// resources object.
	Raw json.RawMessage `json:"-"`
}
