package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/fpvlinkd/pkg/protocol"
)

// SocketClient talks to the fpvlinkd control socket
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout changes the dial and read deadline
func (c *SocketClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	// interface and history listings can exceed the default token size
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// call sends a command and fails on an unsuccessful response
func (c *SocketClient) call(name, cmd string) (map[string]interface{}, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s error: %s", name, resp.Error)
	}
	if resp.Data == nil {
		return map[string]interface{}{}, nil
	}
	return resp.Data, nil
}

// decode re-marshals one field of the response data into out
func decode(data map[string]interface{}, key string, out interface{}) error {
	value, ok := data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

func requestID(data map[string]interface{}) (string, error) {
	id, ok := data["request_id"].(string)
	if !ok {
		return "", fmt.Errorf("request_id not found in response")
	}
	return id, nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	data, err := c.call("status", protocol.CmdStatus)
	if err != nil {
		return nil, err
	}

	var status protocol.Status
	if err := decode(data, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetStatusDetail returns the full STATUS payload including sessions and
// telemetry
func (c *SocketClient) GetStatusDetail() (map[string]interface{}, error) {
	return c.call("status", protocol.CmdStatus)
}

// Interfaces lists interfaces; side may be empty, "controller" or "vehicle"
func (c *SocketClient) Interfaces(side string) (map[string]interface{}, error) {
	cmd := protocol.CmdInterfaces
	if side != "" {
		cmd = fmt.Sprintf("%s:%s", protocol.CmdInterfaces, side)
	}
	return c.call("interfaces", cmd)
}

// Links returns the vehicle links and their eligibility
func (c *SocketClient) Links() (map[string]interface{}, error) {
	return c.call("links", protocol.CmdLinks)
}

// Eligibility returns eligibility for one link, or all links when linkID is
// negative
func (c *SocketClient) Eligibility(linkID int) (map[string]interface{}, error) {
	cmd := protocol.CmdEligibility
	if linkID >= 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdEligibility, linkID)
	}
	return c.call("eligibility", cmd)
}

// Power returns the current power snapshot
func (c *SocketClient) Power() (map[string]interface{}, error) {
	return c.call("power", protocol.CmdPower)
}

// SetPower requests a TX power change and returns the request id
func (c *SocketClient) SetPower(interfaceID string, mw int) (string, error) {
	data, err := c.call("power", fmt.Sprintf("%s:%s:%d", protocol.CmdPower, interfaceID, mw))
	if err != nil {
		return "", err
	}
	return requestID(data)
}

// Mode returns the power mode
func (c *SocketClient) Mode() (string, error) {
	data, err := c.call("mode", protocol.CmdMode)
	if err != nil {
		return "", err
	}
	mode, _ := data["mode"].(string)
	return mode, nil
}

func (c *SocketClient) SetMode(mode string) (string, error) {
	data, err := c.call("mode", fmt.Sprintf("%s:%s", protocol.CmdMode, mode))
	if err != nil {
		return "", err
	}
	return requestID(data)
}

// Switch asks for a controller interface to be moved onto a link
func (c *SocketClient) Switch(linkID int) (string, error) {
	data, err := c.call("switch", fmt.Sprintf("%s:%d", protocol.CmdSwitch, linkID))
	if err != nil {
		return "", err
	}
	return requestID(data)
}

func (c *SocketClient) Rotate() (string, error) {
	data, err := c.call("rotate", protocol.CmdRotate)
	if err != nil {
		return "", err
	}
	return requestID(data)
}

func (c *SocketClient) Swap() (string, error) {
	data, err := c.call("swap", protocol.CmdSwap)
	if err != nil {
		return "", err
	}
	return requestID(data)
}

// Flags requests new capability flags for an interface, e.g. "video|tx|rx"
func (c *SocketClient) Flags(interfaceID, flags string) (string, error) {
	data, err := c.call("flags", fmt.Sprintf("%s:%s:%s", protocol.CmdFlags, interfaceID, flags))
	if err != nil {
		return "", err
	}
	return requestID(data)
}

// Session returns session state; target may be empty for both sessions
func (c *SocketClient) Session(target string) (map[string]interface{}, error) {
	cmd := protocol.CmdSession
	if target != "" {
		cmd = fmt.Sprintf("%s:%s", protocol.CmdSession, target)
	}
	return c.call("session", cmd)
}

// Cancel drops a queued request
func (c *SocketClient) Cancel(requestID string) error {
	_, err := c.call("cancel", fmt.Sprintf("%s:%s", protocol.CmdCancel, requestID))
	return err
}

// History returns up to limit finished commands, newest first
func (c *SocketClient) History(limit int) ([]map[string]interface{}, error) {
	cmd := protocol.CmdHistory
	if limit > 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdHistory, limit)
	}
	data, err := c.call("history", cmd)
	if err != nil {
		return nil, err
	}

	var entries []map[string]interface{}
	if _, ok := data["history"]; !ok {
		return entries, nil
	}
	if err := decode(data, "history", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.call("ping", protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
