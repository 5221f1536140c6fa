// Package http is the local control API of an agent.
package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Jingle/internal/app"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/gin-gonic/gin"
)

type CallRequest struct {
	To    string `json:"to"`
	Video bool   `json:"video"`
}

type CallResponse struct {
	CallID string `json:"call_id"`
	SID    string `json:"sid"`
}

type HangupRequest struct {
	Reason string `json:"reason"`
}

type TransferRequest struct {
	Target string `json:"target"`
	// Attendant is the sid of our session with the transfer target.
	Attendant string `json:"attendant"`
}

type FocusRequest struct {
	On bool `json:"on"`
}

type controller struct {
	tel *app.Telephony
}

func SetupRouter(tel *app.Telephony) *gin.Engine {
	ctl := &controller{tel: tel}
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/calls", ctl.listCalls)
	api.POST("/calls", ctl.placeCall)

	peer := api.Group("/calls/:sid", ctl.findPeer)
	peer.POST("/answer", ctl.answer)
	peer.POST("/hangup", ctl.hangup)
	peer.POST("/hold", ctl.hold(true))
	peer.POST("/unhold", ctl.hold(false))
	peer.POST("/transfer", ctl.transfer)
	peer.POST("/video", ctl.addVideo)
	peer.DELETE("/contents/:name", ctl.removeContent)
	peer.POST("/focus", ctl.focus)

	return router
}

func (ctl *controller) listCalls(c *gin.Context) {
	c.JSON(http.StatusOK, ctl.tel.Registry().Snapshot())
}

func (ctl *controller) placeCall(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.To == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid callee"})
		return
	}
	call, p, err := ctl.tel.CreateCall(c.Request.Context(), req.To, req.Video)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, CallResponse{CallID: call.ID, SID: p.SID()})
}

func (ctl *controller) findPeer(c *gin.Context) {
	p, ok := ctl.tel.Registry().FindBySessionID(c.Param("sid"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": app.ErrUnknownPeer.Error()})
		return
	}
	c.Set("peer", p)
	c.Next()
}

func peerOf(c *gin.Context) *app.PeerSession {
	return c.MustGet("peer").(*app.PeerSession)
}

func (ctl *controller) answer(c *gin.Context) {
	done(c, ctl.tel.Answer(c.Request.Context(), peerOf(c)))
}

func (ctl *controller) hangup(c *gin.Context) {
	var req HangupRequest
	_ = c.ShouldBindJSON(&req)
	reason := app.HangupNormal
	switch req.Reason {
	case "", "success":
	case "busy":
		reason = app.HangupBusy
	case "timeout":
		reason = app.HangupTimeout
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown reason " + req.Reason})
		return
	}
	done(c, ctl.tel.Hangup(c.Request.Context(), peerOf(c), reason))
}

func (ctl *controller) hold(on bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if on {
			done(c, ctl.tel.PutOnHold(c.Request.Context(), peerOf(c)))
			return
		}
		done(c, ctl.tel.PutOffHold(c.Request.Context(), peerOf(c)))
	}
}

func (ctl *controller) transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Target == "" && req.Attendant == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing transfer target"})
		return
	}
	var attendant *app.PeerSession
	if req.Attendant != "" {
		a, ok := ctl.tel.Registry().FindBySessionID(req.Attendant)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown attendant session"})
			return
		}
		attendant = a
	}
	done(c, ctl.tel.Transfer(c.Request.Context(), peerOf(c), domain.JID(req.Target), attendant))
}

func (ctl *controller) addVideo(c *gin.Context) {
	done(c, ctl.tel.AddVideo(c.Request.Context(), peerOf(c)))
}

func (ctl *controller) removeContent(c *gin.Context) {
	done(c, ctl.tel.RemoveContent(c.Request.Context(), peerOf(c), c.Param("name")))
}

func (ctl *controller) focus(c *gin.Context) {
	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	done(c, ctl.tel.SetConferenceFocus(c.Request.Context(), peerOf(c).Call(), req.On))
}

func done(c *gin.Context, err error) {
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func abortWith(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if code, ok := app.CodeOf(err); ok {
		switch code {
		case app.NotFound:
			status = http.StatusNotFound
		case app.IllegalArgument:
			status = http.StatusBadRequest
		}
	}
	switch {
	case errors.Is(err, app.ErrIllegalState):
		status = http.StatusConflict
	case errors.Is(err, app.ErrUnknownContent), errors.Is(err, app.ErrUnknownPeer):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
