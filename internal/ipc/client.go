package ipc

import (
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

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Morph.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskList returns tasks, optionally limited to active ones.
func (c *Client) TaskList(activeOnly bool) (*TaskListResponse, error) {
	var resp TaskListResponse
	if err := c.client.Call("Morph.TaskList", TaskListRequest{ActiveOnly: activeOnly}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskDescribe returns details for a single task.
func (c *Client) TaskDescribe(id string) (*TaskDescribeResponse, error) {
	var resp TaskDescribeResponse
	if err := c.client.Call("Morph.TaskDescribe", TaskDescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskStop cancels a pending or converting task.
func (c *Client) TaskStop(id string) (*TaskStopResponse, error) {
	var resp TaskStopResponse
	if err := c.client.Call("Morph.TaskStop", TaskStopRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskRemove deletes a task permanently.
func (c *Client) TaskRemove(id string) (*TaskRemoveResponse, error) {
	var resp TaskRemoveResponse
	if err := c.client.Call("Morph.TaskRemove", TaskRemoveRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SpaceStatus retrieves the budget and usage snapshot.
func (c *Client) SpaceStatus() (*SpaceStatusResponse, error) {
	var resp SpaceStatusResponse
	if err := c.client.Call("Morph.SpaceStatus", SpaceStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SpaceCheck asks whether requiredBytes additional bytes fit.
func (c *Client) SpaceCheck(requiredBytes int64) (*SpaceCheckResponse, error) {
	var resp SpaceCheckResponse
	if err := c.client.Call("Morph.SpaceCheck", SpaceCheckRequest{RequiredBytes: requiredBytes}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Morph.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
