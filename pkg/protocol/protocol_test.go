package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	t.Run("STATUS Command", func(t *testing.T) {
		cmd, err := ParseCommand("STATUS")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Type != "STATUS" {
			t.Errorf("Expected type STATUS, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for STATUS, got %d", len(cmd.Args))
		}
	})

	t.Run("POWER Command", func(t *testing.T) {
		cmd, err := ParseCommand("POWER:wlan0:250")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Type != CmdPower {
			t.Errorf("Expected type POWER, got %s", cmd.Type)
		}
		if cmd.Args["interface"] != "wlan0" {
			t.Errorf("Expected interface wlan0, got %v", cmd.Args["interface"])
		}
		if cmd.Args["mw"] != "250" {
			t.Errorf("Expected mw 250, got %v", cmd.Args["mw"])
		}
	})

	t.Run("POWER Command Serial Device", func(t *testing.T) {
		// interface ids may contain slashes but never colons
		cmd, err := ParseCommand("POWER:/dev/ttyUSB0:100")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["interface"] != "/dev/ttyUSB0" {
			t.Errorf("Expected interface /dev/ttyUSB0, got %v", cmd.Args["interface"])
		}
	})

	t.Run("POWER Command Missing Value", func(t *testing.T) {
		if _, err := ParseCommand("POWER:wlan0"); err == nil {
			t.Error("Expected error for POWER without mW")
		}
	})

	t.Run("FLAGS Command", func(t *testing.T) {
		cmd, err := ParseCommand("FLAGS:wlan1:video|data|tx|rx")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["interface"] != "wlan1" {
			t.Errorf("Expected interface wlan1, got %v", cmd.Args["interface"])
		}
		if cmd.Args["flags"] != "video|data|tx|rx" {
			t.Errorf("Expected flags video|data|tx|rx, got %v", cmd.Args["flags"])
		}
	})

	t.Run("Link Commands", func(t *testing.T) {
		for _, text := range []string{"SWITCH:1", "ELIGIBILITY:1"} {
			cmd, err := ParseCommand(text)
			if err != nil {
				t.Fatalf("Expected no error for %s, got: %v", text, err)
			}
			if cmd.Args["link"] != "1" {
				t.Errorf("Expected link 1 for %s, got %v", text, cmd.Args["link"])
			}
		}
	})

	t.Run("MODE Command", func(t *testing.T) {
		cmd, err := ParseCommand("MODE:Auto")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["mode"] != "auto" {
			t.Errorf("Expected mode auto, got %v", cmd.Args["mode"])
		}
	})

	t.Run("SESSION Command", func(t *testing.T) {
		cmd, err := ParseCommand("SESSION:vehicle")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["target"] != "vehicle" {
			t.Errorf("Expected target vehicle, got %v", cmd.Args["target"])
		}
	})

	t.Run("CANCEL Command", func(t *testing.T) {
		id := "7b2d1f4e-3c8a-4a55-9e61-0d3f2b6c9a10"
		cmd, err := ParseCommand("CANCEL:" + id)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["request"] != id {
			t.Errorf("Expected request %s, got %v", id, cmd.Args["request"])
		}
	})

	t.Run("HISTORY Command with Limit", func(t *testing.T) {
		cmd, err := ParseCommand("HISTORY:20")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["limit"] != "20" {
			t.Errorf("Expected limit 20, got %v", cmd.Args["limit"])
		}
	})

	t.Run("Simple Commands", func(t *testing.T) {
		commands := []string{"QUIT", "PING", "LINKS", "ROTATE", "SWAP", "INTERFACES", "HISTORY"}
		for _, cmdText := range commands {
			t.Run(cmdText, func(t *testing.T) {
				cmd, err := ParseCommand(cmdText)
				if err != nil {
					t.Fatalf("Expected no error for %s, got: %v", cmdText, err)
				}
				if cmd.Type != cmdText {
					t.Errorf("Expected type %s, got %s", cmdText, cmd.Type)
				}
				if len(cmd.Args) != 0 {
					t.Errorf("Expected no args for %s, got %d", cmdText, len(cmd.Args))
				}
			})
		}
	})

	t.Run("Case Insensitive", func(t *testing.T) {
		cmd, err := ParseCommand("status")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != "STATUS" {
			t.Errorf("Expected uppercase STATUS, got %s", cmd.Type)
		}
	})

	t.Run("Whitespace Handling", func(t *testing.T) {
		cmd, err := ParseCommand("  PING  ")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != "PING" {
			t.Errorf("Expected type PING, got %s", cmd.Type)
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		cmd, err := ParseCommand("UNKNOWN:test")
		if err != nil {
			t.Fatalf("Expected no error for unknown command, got: %v", err)
		}
		if cmd.Type != "UNKNOWN" {
			t.Errorf("Expected type UNKNOWN, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for unknown command, got %d", len(cmd.Args))
		}
	})

	t.Run("Empty Command", func(t *testing.T) {
		if _, err := ParseCommand("   "); err == nil {
			t.Error("Expected error for empty command")
		}
	})
}

func TestResponse(t *testing.T) {
	t.Run("Success Response JSON", func(t *testing.T) {
		data := map[string]interface{}{
			"interface": "wlan0",
			"mw":        100,
		}
		resp := NewSuccessResponse(data)

		if !resp.Success {
			t.Error("Expected success to be true")
		}
		if resp.Error != "" {
			t.Errorf("Expected no error, got %s", resp.Error)
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["success"] != true {
			t.Error("Expected success true in JSON")
		}
		dataField := parsed["data"].(map[string]interface{})
		if dataField["mw"] != float64(100) {
			t.Errorf("Expected mw 100, got %v", dataField["mw"])
		}
	})

	t.Run("Error Response JSON", func(t *testing.T) {
		resp := NewErrorResponse("automatic power mode active")

		if resp.Success {
			t.Error("Expected success to be false")
		}
		if resp.Data != nil {
			t.Errorf("Expected no data for error response, got %v", resp.Data)
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["error"] != "automatic power mode active" {
			t.Errorf("Expected error in JSON, got %v", parsed["error"])
		}
	})
}

func TestStatus(t *testing.T) {
	status := Status{
		PowerMode:  "fixed",
		Paired:     true,
		Controller: 2,
		Vehicle:    2,
		Links:      2,
		Uptime:     "1h30m",
		StartTime:  time.Now(),
		Version:    "0.1.0",
	}

	data, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("Failed to marshal status: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if parsed["controller_interfaces"] != float64(2) {
		t.Errorf("Expected controller_interfaces 2, got %v", parsed["controller_interfaces"])
	}
	if parsed["power_mode"] != "fixed" {
		t.Errorf("Expected power_mode fixed, got %v", parsed["power_mode"])
	}
}
