package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Command represents a command sent to the link daemon
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the link daemon
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Status represents the current daemon status
type Status struct {
	PowerMode  string    `json:"power_mode"`
	Paired     bool      `json:"paired"`
	Controller int       `json:"controller_interfaces"`
	Vehicle    int       `json:"vehicle_interfaces"`
	Links      int       `json:"links"`
	Uptime     string    `json:"uptime"`
	StartTime  time.Time `json:"start_time"`
	Version    string    `json:"version"`
}

// ParseCommand parses a text command into a Command struct
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}
	if len(parts) < 2 {
		return cmd, nil
	}
	args := parts[1]

	switch cmd.Type {
	case CmdPower:
		// POWER:wlan0:100
		powerParts := strings.SplitN(args, ":", 2)
		if len(powerParts) != 2 {
			return nil, fmt.Errorf("POWER expects <interface>:<mW>")
		}
		cmd.Args["interface"] = powerParts[0]
		cmd.Args["mw"] = powerParts[1]

	case CmdFlags:
		// FLAGS:wlan0:video|data|tx|rx
		flagParts := strings.SplitN(args, ":", 2)
		if len(flagParts) != 2 {
			return nil, fmt.Errorf("FLAGS expects <interface>:<flags>")
		}
		cmd.Args["interface"] = flagParts[0]
		cmd.Args["flags"] = flagParts[1]

	case CmdEligibility, CmdSwitch:
		cmd.Args["link"] = args

	case CmdInterfaces:
		cmd.Args["side"] = strings.ToLower(args)

	case CmdMode:
		cmd.Args["mode"] = strings.ToLower(args)

	case CmdSession:
		cmd.Args["target"] = strings.ToLower(args)

	case CmdCancel:
		cmd.Args["request"] = args

	case CmdHistory:
		cmd.Args["limit"] = args
	}

	return cmd, nil
}

// FormatResponse converts a Response to JSON string
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Protocol commands
const (
	CmdStatus      = "STATUS"
	CmdPing        = "PING"
	CmdQuit        = "QUIT"
	CmdInterfaces  = "INTERFACES"
	CmdLinks       = "LINKS"
	CmdEligibility = "ELIGIBILITY"
	CmdPower       = "POWER"
	CmdMode        = "MODE"
	CmdSwitch      = "SWITCH"
	CmdRotate      = "ROTATE"
	CmdSwap        = "SWAP"
	CmdFlags       = "FLAGS"
	CmdSession     = "SESSION"
	CmdCancel      = "CANCEL"
	CmdHistory     = "HISTORY"
)
