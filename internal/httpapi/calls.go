package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/internal/reporting"

	"github.com/gin-gonic/gin"
)

type placeCallRequest struct {
	To        string `json:"to" binding:"required"`
	From      string `json:"from"`
	ClientRef string `json:"client_ref"`
}

// PlaceCall starts an outbound call for the acting user.
func (h Handlers) PlaceCall(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to required"})
		return
	}
	rec, err := h.Calls.MakeCall(c.Request.Context(), uid, calls.OutboundRequest{
		To:        req.To,
		From:      req.From,
		ClientRef: req.ClientRef,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) ListCalls(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": h.Calls.ListActive(c.Request.Context(), uid)})
}

func (h Handlers) GetCall(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	rec, err := h.Calls.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) Hangup(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	rec, err := h.Calls.Hangup(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListPending(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": h.Calls.ListPending(c.Request.Context(), uid)})
}

func (h Handlers) AcceptPending(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	rec, err := h.Calls.Accept(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) RejectPending(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	if err := h.Calls.Reject(c.Request.Context(), uid, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

const maxHistoryLimit = 200

func (h Handlers) ListHistory(c *gin.Context) {
	uid, ok := actingUser(c)
	if !ok {
		return
	}
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := h.History.List(c.Request.Context(), uid, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// CallsSummary is the admin dashboard view over live call state.
// Optional query: user_id, from, to (RFC 3339).
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	req := reporting.CallsSummaryRequest{UserID: c.Query("user_id")}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &req.Range.From}, {"to", &req.Range.To}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.name + " must be RFC 3339"})
			return
		}
		*p.dst = t
	}
	out, err := h.Reporting.CallsSummary(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
