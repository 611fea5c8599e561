package ipc

import (
	"encoding/base64"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks that the daemon answers on the socket.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Folio.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon runtime summary.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Folio.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobSubmit starts a workflow run on a sandbox.
func (c *Client) JobSubmit(req JobSubmitRequest) (*JobSubmitResponse, error) {
	var resp JobSubmitResponse
	if err := c.client.Call("Folio.JobSubmit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobStatus fetches one job by id.
func (c *Client) JobStatus(id string) (*JobStatusResponse, error) {
	var resp JobStatusResponse
	if err := c.client.Call("Folio.JobStatus", JobStatusRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList lists all known jobs, newest first.
func (c *Client) JobList() (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.client.Call("Folio.JobList", JobListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobCancel requests cooperative cancellation of a running job.
func (c *Client) JobCancel(user, id string) (*JobCancelResponse, error) {
	var resp JobCancelResponse
	if err := c.client.Call("Folio.JobCancel", JobCancelRequest{User: user, ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SandboxCreate creates a sandbox in a project.
func (c *Client) SandboxCreate(project, name string) (*SandboxCreateResponse, error) {
	var resp SandboxCreateResponse
	req := SandboxCreateRequest{Project: project, Name: name}
	if err := c.client.Call("Folio.SandboxCreate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SandboxList lists sandboxes, optionally scoped to a project.
func (c *Client) SandboxList(project string) (*SandboxListResponse, error) {
	var resp SandboxListResponse
	if err := c.client.Call("Folio.SandboxList", SandboxListRequest{Project: project}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SandboxSetState changes a sandbox lifecycle state.
func (c *Client) SandboxSetState(id int64, state string) (*SandboxSetStateResponse, error) {
	var resp SandboxSetStateResponse
	req := SandboxSetStateRequest{ID: id, State: state}
	if err := c.client.Call("Folio.SandboxSetState", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SnapshotDescribe fetches a snapshot and its history by track.
func (c *Client) SnapshotDescribe(sandboxID int64, trackValue string) (*SnapshotDescribeResponse, error) {
	var resp SnapshotDescribeResponse
	req := SnapshotDescribeRequest{SandboxID: sandboxID, Track: trackValue}
	if err := c.client.Call("Folio.SnapshotDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SnapshotChildren lists the direct children of a track.
func (c *Client) SnapshotChildren(sandboxID int64, trackValue string) (*SnapshotChildrenResponse, error) {
	var resp SnapshotChildrenResponse
	req := SnapshotChildrenRequest{SandboxID: sandboxID, Track: trackValue}
	if err := c.client.Call("Folio.SnapshotChildren", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SandboxReset clears a sandbox's entire snapshot tree.
func (c *Client) SandboxReset(id int64) (*SandboxResetResponse, error) {
	var resp SandboxResetResponse
	if err := c.client.Call("Folio.SandboxReset", SandboxResetRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SnapshotReset discards the subtree rooted at a track.
func (c *Client) SnapshotReset(sandboxID int64, trackValue string) (*SnapshotResetResponse, error) {
	var resp SnapshotResetResponse
	req := SnapshotResetRequest{SandboxID: sandboxID, Track: trackValue}
	if err := c.client.Call("Folio.SnapshotReset", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History fetches sandbox-level history lines.
func (c *Client) History(sandboxID int64) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.client.Call("Folio.History", HistoryRequest{SandboxID: sandboxID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowInstall installs or replaces a workflow definition.
func (c *Client) WorkflowInstall(definition string) (*WorkflowInstallResponse, error) {
	var resp WorkflowInstallResponse
	req := WorkflowInstallRequest{Definition: definition}
	if err := c.client.Call("Folio.WorkflowInstall", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowList lists installed workflows.
func (c *Client) WorkflowList() (*WorkflowListResponse, error) {
	var resp WorkflowListResponse
	if err := c.client.Call("Folio.WorkflowList", WorkflowListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowShow fetches a workflow definition by name.
func (c *Client) WorkflowShow(name string) (*WorkflowShowResponse, error) {
	var resp WorkflowShowResponse
	if err := c.client.Call("Folio.WorkflowShow", WorkflowShowRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExportHistory downloads the snapshot metadata and history archive.
func (c *Client) ExportHistory() ([]byte, error) {
	var resp ExportHistoryResponse
	if err := c.client.Call("Folio.ExportHistory", ExportHistoryRequest{}, &resp); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.ArchiveBase64)
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Folio.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Folio.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
