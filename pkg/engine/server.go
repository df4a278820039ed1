package engine

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/protocol"
	"github.com/dougsko/fpvlinkd/pkg/radio"
	"github.com/dougsko/fpvlinkd/pkg/session"
	"github.com/dougsko/fpvlinkd/pkg/storage"
	"github.com/dougsko/fpvlinkd/pkg/txpower"
)

// Version is reported by STATUS
const Version = "0.1.0-dev"

// Server exposes the engine over a Unix domain socket using the line
// protocol of pkg/protocol
type Server struct {
	engine     *Engine
	socketPath string
	listener   net.Listener
	running    bool
	mutex      sync.RWMutex
	startTime  time.Time
}

// NewServer creates a socket server for an engine
func NewServer(e *Engine, socketPath string) *Server {
	return &Server{
		engine:     e,
		socketPath: socketPath,
		startTime:  time.Now(),
	}
}

// Start creates the socket and accepts connections in the background
func (s *Server) Start() error {
	// Remove existing socket file
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}

	// readable/writable by owner and group
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		logging.Warn("engine", fmt.Sprintf("Failed to set socket permissions: %v", err))
	}

	s.mutex.Lock()
	s.listener = listener
	s.running = true
	s.mutex.Unlock()

	logging.Info("engine", fmt.Sprintf("Control socket listening on %s", s.socketPath))
	go s.acceptConnections()
	return nil
}

// Stop closes the listener and removes the socket file
func (s *Server) Stop() error {
	s.mutex.Lock()
	s.running = false
	listener := s.listener
	s.mutex.Unlock()

	if listener != nil {
		listener.Close()
	}
	os.Remove(s.socketPath)
	return nil
}

func (s *Server) isRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

func (s *Server) acceptConnections() {
	for s.isRunning() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isRunning() {
				logging.Warn("engine", fmt.Sprintf("Socket accept error: %v", err))
			}
			continue
		}

		go s.handleConnection(conn)
	}
}

// handleConnection handles a single socket connection
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := s.HandleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}

// HandleCommand executes one parsed command against the engine
func (s *Server) HandleCommand(cmd *protocol.Command) *protocol.Response {
	e := s.engine

	switch cmd.Type {
	case protocol.CmdStatus:
		return s.handleStatus()

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	case protocol.CmdInterfaces:
		data := map[string]interface{}{}
		side := argString(cmd, "side")
		if side == "" || side == "controller" {
			data["controller"] = e.Interfaces(radio.SideController)
		}
		if side == "" || side == "vehicle" {
			data["vehicle"] = e.Interfaces(radio.SideVehicle)
		}
		if len(data) == 0 {
			return protocol.NewErrorResponse(fmt.Sprintf("unknown side: %s", side))
		}
		return protocol.NewSuccessResponse(data)

	case protocol.CmdLinks:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"links":       e.Links(),
			"eligibility": e.AllEligibility(),
		})

	case protocol.CmdEligibility:
		if argString(cmd, "link") == "" {
			return protocol.NewSuccessResponse(map[string]interface{}{
				"eligibility": e.AllEligibility(),
			})
		}
		linkID, err := argInt(cmd, "link")
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		el, err := e.GetLinkEligibility(linkID)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"eligibility": el,
		})

	case protocol.CmdPower:
		if argString(cmd, "interface") == "" {
			return protocol.NewSuccessResponse(map[string]interface{}{
				"power": e.PowerSnapshot(),
			})
		}
		mw, err := argInt(cmd, "mw")
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return requestResponse(e.RequestPowerChange(argString(cmd, "interface"), mw))

	case protocol.CmdMode:
		if argString(cmd, "mode") == "" {
			return protocol.NewSuccessResponse(map[string]interface{}{
				"mode": e.PowerMode().String(),
			})
		}
		mode, err := txpower.ParseMode(argString(cmd, "mode"))
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return requestResponse(e.SetPowerMode(mode))

	case protocol.CmdSwitch:
		linkID, err := argInt(cmd, "link")
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return requestResponse(e.RequestLinkSwitch(linkID))

	case protocol.CmdRotate:
		return requestResponse(e.RequestLinkRotation())

	case protocol.CmdSwap:
		return requestResponse(e.RequestInterfaceSwap())

	case protocol.CmdFlags:
		flags, err := radio.ParseCapabilities(argString(cmd, "flags"))
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return requestResponse(e.RequestInterfaceFlags(argString(cmd, "interface"), flags))

	case protocol.CmdSession:
		return s.handleSession(cmd)

	case protocol.CmdCancel:
		id, err := uuid.Parse(argString(cmd, "request"))
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid request id: %v", err))
		}
		if err := e.CancelRequest(id); err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"cancelled": id.String(),
		})

	case protocol.CmdHistory:
		limit := 50
		if argString(cmd, "limit") != "" {
			n, err := argInt(cmd, "limit")
			if err != nil {
				return protocol.NewErrorResponse(err.Error())
			}
			limit = n
		}
		entries, err := e.History(storage.HistoryQuery{Limit: limit})
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"history": entries,
			"count":   len(entries),
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

func (s *Server) handleStatus() *protocol.Response {
	st := s.engine.Status()
	status := protocol.Status{
		PowerMode:  st.PowerMode.String(),
		Paired:     st.Paired,
		Controller: st.ControllerInterfaces,
		Vehicle:    st.VehicleInterfaces,
		Links:      st.Links,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		StartTime:  s.startTime,
		Version:    Version,
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"status":    status,
		"sessions":  st.Sessions,
		"telemetry": st.Telemetry,
	})
}

func (s *Server) handleSession(cmd *protocol.Command) *protocol.Response {
	targets := []session.Target{session.TargetController, session.TargetVehicle}
	if name := argString(cmd, "target"); name != "" {
		t, err := session.ParseTarget(name)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		targets = []session.Target{t}
	}

	data := map[string]interface{}{}
	for _, t := range targets {
		state, err := s.engine.GetSessionState(t)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		status, _ := s.engine.SessionStatus(t)
		data[t.String()] = map[string]interface{}{
			"state":  state.String(),
			"status": status,
		}
	}
	return protocol.NewSuccessResponse(data)
}

func requestResponse(id uuid.UUID, err error) *protocol.Response {
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"request_id": id.String(),
	})
}

func argString(cmd *protocol.Command, key string) string {
	if v, ok := cmd.Args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(cmd *protocol.Command, key string) (int, error) {
	v := argString(cmd, key)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}
