package hardware

import (
	"fmt"
	"sync"

	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/session"
)

// ResultFunc receives the outcome of a command
type ResultFunc func(commandID uint32, result session.Result)

// LocalChannel carries controller side commands to the local power driver.
// Only the raw power section touches hardware; the rest of the payload is
// controller state and is accepted as is.
type LocalChannel struct {
	driver PowerDriverInterface

	mu       sync.Mutex
	onResult ResultFunc
}

// NewLocalChannel creates a channel programming driver
func NewLocalChannel(driver PowerDriverInterface) *LocalChannel {
	return &LocalChannel{driver: driver}
}

// OnResult registers the result callback. Results are always delivered on
// a separate goroutine.
func (c *LocalChannel) OnResult(fn ResultFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = fn
}

// SendCommand implements session.Channel
func (c *LocalChannel) SendCommand(commandID uint32, param uint8, payload []byte) bool {
	if !c.driver.IsConnected() {
		logging.Warn("hardware", fmt.Sprintf("Dropping command %d: power driver not connected", commandID))
		return false
	}

	result := c.apply(payload)
	c.mu.Lock()
	fn := c.onResult
	c.mu.Unlock()
	if fn != nil {
		go fn(commandID, result)
	}
	return true
}

func (c *LocalChannel) apply(data []byte) session.Result {
	p, err := session.DecodePayload(data)
	if err != nil {
		return session.Result{Status: session.ResultRejected, Reason: err.Error()}
	}

	// validate before writing anything so a bad id applies nothing
	previous := make(map[string]int, len(p.RawPowers))
	for id := range p.RawPowers {
		raw, err := c.driver.GetTxPowerRaw(id)
		if err != nil {
			return session.Result{Status: session.ResultRejected, Reason: err.Error()}
		}
		previous[id] = raw
	}
	for id, raw := range p.RawPowers {
		if err := c.driver.SetTxPowerRaw(id, raw); err != nil {
			for rid, old := range previous {
				_ = c.driver.SetTxPowerRaw(rid, old)
			}
			return session.Result{Status: session.ResultRejected, Reason: err.Error()}
		}
	}
	return session.Result{Status: session.ResultAccepted, Applied: p.Parts()}
}
