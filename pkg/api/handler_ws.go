package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler handles GET /ws?preflightId=...&userId=...: subscribes the
// caller to one preflight's status channel (C4). Grounded on the teacher's
// handler_ws.go (authorize, then hand off to a long-lived connection
// manager) but against statuschannel.Store/Manager instead of the
// teacher's pkg/events.ConnectionManager.
func (s *Server) wsHandler(c *gin.Context) {
	preflightID := c.Query("preflightId")
	if preflightID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "preflightId is required"})
		return
	}
	userID := c.Query("userId")
	privileged := c.Query("privileged") == "true"

	ok, err := s.statusStore.CanRead(c.Request.Context(), preflightID, userID, privileged)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "preflight not found"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "not authorized to view this preflight"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin policy enforced upstream by the dashboard's own proxy
	})
	if err != nil {
		return
	}

	s.statusManager.HandleConnection(c.Request.Context(), conn, preflightID)
}
