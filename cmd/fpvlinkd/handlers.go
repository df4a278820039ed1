package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/power"
)

// handleHome lists the API entry points
func (d *FPVLinkDaemon) handleHome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "fpvlinkd",
		"version": Version,
		"api":     "/api/v1",
		"events":  "/ws/events",
	})
}

// socketError maps a failed socket call onto an HTTP error
func socketError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
	})
}

func requestAccepted(c *gin.Context, id string) {
	c.JSON(http.StatusAccepted, gin.H{
		"status":     "queued",
		"request_id": id,
	})
}

func linkParam(c *gin.Context) (int, bool) {
	linkID, err := strconv.Atoi(c.Param("link"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid link: %q", c.Param("link"))})
		return 0, false
	}
	return linkID, true
}

// handleGetStatus returns daemon status via socket
func (d *FPVLinkDaemon) handleGetStatus(c *gin.Context) {
	data, err := d.socketClient.GetStatusDetail()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, data)
}

func (d *FPVLinkDaemon) handleGetInterfaces(c *gin.Context) {
	data, err := d.socketClient.Interfaces(c.Query("side"))
	if err != nil {
		socketError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// handleSetPower requests a TX power change for one interface
func (d *FPVLinkDaemon) handleSetPower(c *gin.Context) {
	var req struct {
		Mw *int `json:"mw" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := d.socketClient.SetPower(c.Param("id"), *req.Mw)
	if err != nil {
		socketError(c, err)
		return
	}
	requestAccepted(c, id)
}

func (d *FPVLinkDaemon) handleSetFlags(c *gin.Context) {
	var req struct {
		Flags string `json:"flags" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := d.socketClient.Flags(c.Param("id"), req.Flags)
	if err != nil {
		socketError(c, err)
		return
	}
	requestAccepted(c, id)
}

// handleInterfaceSettings updates the local display settings of an
// interface. These never leave the daemon, so they go straight to the
// engine.
func (d *FPVLinkDaemon) handleInterfaceSettings(c *gin.Context) {
	var req struct {
		Name        *string `json:"name"`
		TxPreferred *bool   `json:"tx_preferred"`
		Booster     *string `json:"booster"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	apply := func(err error) bool {
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return false
		}
		return true
	}

	if req.Name != nil && !apply(d.engine.SetInterfaceName(id, *req.Name)) {
		return
	}
	if req.TxPreferred != nil {
		var err error
		if *req.TxPreferred {
			err = d.engine.SetTxPreferred(id)
		} else {
			err = d.engine.RemoveTxPreferred(id)
		}
		if !apply(err) {
			return
		}
	}
	response := gin.H{"status": "ok", "interface": id}
	if req.Booster != nil {
		kind, err := power.ParseBoosterKind(*req.Booster)
		if !apply(err) {
			return
		}
		requestID, err := d.engine.SetBooster(id, kind)
		if !apply(err) {
			return
		}
		// vehicle boosters are negotiated like any other vehicle change
		if requestID != uuid.Nil {
			response["request_id"] = requestID.String()
		}
	}

	c.JSON(http.StatusOK, response)
}

func (d *FPVLinkDaemon) handleGetLinks(c *gin.Context) {
	data, err := d.socketClient.Links()
	if err != nil {
		socketError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (d *FPVLinkDaemon) handleGetEligibility(c *gin.Context) {
	linkID, ok := linkParam(c)
	if !ok {
		return
	}
	data, err := d.socketClient.Eligibility(linkID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, data)
}

func (d *FPVLinkDaemon) handleSwitchLink(c *gin.Context) {
	linkID, ok := linkParam(c)
	if !ok {
		return
	}
	id, err := d.socketClient.Switch(linkID)
	if err != nil {
		socketError(c, err)
		return
	}
	requestAccepted(c, id)
}

func (d *FPVLinkDaemon) handleRotate(c *gin.Context) {
	id, err := d.socketClient.Rotate()
	if err != nil {
		socketError(c, err)
		return
	}
	requestAccepted(c, id)
}

func (d *FPVLinkDaemon) handleSwap(c *gin.Context) {
	id, err := d.socketClient.Swap()
	if err != nil {
		socketError(c, err)
		return
	}
	requestAccepted(c, id)
}

func (d *FPVLinkDaemon) handleGetPower(c *gin.Context) {
	data, err := d.socketClient.Power()
	if err != nil {
		socketError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (d *FPVLinkDaemon) handleGetMode(c *gin.Context) {
	mode, err := d.socketClient.Mode()
	if err != nil {
		socketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

func (d *FPVLinkDaemon) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := d.socketClient.SetMode(req.Mode)
	if err != nil {
		socketError(c, err)
		return
	}
	requestAccepted(c, id)
}

// handleGetSessions serves both /sessions and /sessions/:target
func (d *FPVLinkDaemon) handleGetSessions(c *gin.Context) {
	data, err := d.socketClient.Session(c.Param("target"))
	if err != nil {
		socketError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (d *FPVLinkDaemon) handleCancelRequest(c *gin.Context) {
	if err := d.socketClient.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "request_id": c.Param("id")})
}

// handleGetHistory returns finished commands via socket
func (d *FPVLinkDaemon) handleGetHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		limit = 50
	}

	entries, err := d.socketClient.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

// handleSetPaired pairs or unpairs the simulated vehicle
func (d *FPVLinkDaemon) handleSetPaired(c *gin.Context) {
	var req struct {
		Paired *bool `json:"paired" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d.hardware.VehicleLink().SetPaired(*req.Paired)
	d.engine.PairingChanged(*req.Paired)
	c.JSON(http.StatusOK, gin.H{"paired": *req.Paired})
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEventsWebSocket streams session events to the client
func (d *FPVLinkDaemon) handleEventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("api", fmt.Sprintf("WebSocket upgrade failed: %v", err))
		return
	}
	defer conn.Close()

	events, unsubscribe := d.engine.Subscribe(64)
	defer unsubscribe()

	logging.Debug("api", fmt.Sprintf("Event WebSocket client connected from %s", c.Request.RemoteAddr))

	// the client only sends control frames; a read error means it went away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(gin.H{
				"type":  "session_event",
				"event": ev,
			}); err != nil {
				logging.Debug("api", fmt.Sprintf("WebSocket write error: %v", err))
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-gone:
			logging.Debug("api", "Event WebSocket client disconnected")
			return

		case <-d.ctx.Done():
			return
		}
	}
}
