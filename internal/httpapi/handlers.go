package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ordergate/internal/core"
	"ordergate/internal/inflow"
	"ordergate/pkg/domain"
)

const maxWebhookBody = 1 << 20

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "running", "service": serviceName}
	if s.deps.Monitor != nil {
		st := s.deps.Monitor.Status()
		resp["monitor"] = gin.H{"running": st.Running, "interval_minutes": st.IntervalMinutes}
	}
	c.JSON(http.StatusOK, resp)
}

type webhookPayload struct {
	EventType    string `json:"eventType"`
	Event        string `json:"event"`
	SalesOrderID string `json:"salesOrderId"`
	Data         struct {
		SalesOrderID string `json:"salesOrderId"`
	} `json:"data"`
}

func (p webhookPayload) orderID() string {
	if p.SalesOrderID != "" {
		return p.SalesOrderID
	}
	return p.Data.SalesOrderID
}

func (p webhookPayload) eventType() string {
	if p.EventType != "" {
		return p.EventType
	}
	if p.Event != "" {
		return p.Event
	}
	return "unknown"
}

// isSalesOrderEvent matches SalesOrderCreatedV1, salesOrder.updated and friends.
func isSalesOrderEvent(eventType string) bool {
	return strings.Contains(strings.ToLower(eventType), "salesorder")
}

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := verifySignature(s.deps.WebhookSecret, body, c.GetHeader(SignatureHeader)); err != nil {
		s.log.Warn("webhook rejected", "reason", err.Error(), "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	orderID := payload.orderID()
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing salesOrderId"})
		return
	}
	event := payload.eventType()
	if !isSalesOrderEvent(event) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "message": "Not a sales order event", "event_type": event})
		return
	}

	s.log.Info("webhook received", "event_type", event, "order_id", orderID)
	out, err := s.deps.Processor.Process(c.Request.Context(), orderID, true)
	if err != nil {
		s.log.Error("webhook processing failed", "order_id", orderID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "order_id": orderID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "processed",
		"order_id":          orderID,
		"order_number":      out.Report.OrderNumber,
		"validation_status": out.Report.Status,
		"issues_count":      len(out.Report.Issues),
		"notified":          out.Notified,
	})
}

func (s *Server) handleValidate(c *gin.Context) {
	orderID := c.Param("order_id")
	out, err := s.deps.Processor.Process(c.Request.Context(), orderID, false)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, inflow.ErrOrderNotFound):
			status = http.StatusNotFound
		case errors.Is(err, core.ErrNoOrderSource):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "order_id": orderID})
		return
	}
	c.JSON(http.StatusOK, out.Report)
}

func (s *Server) handleHistory(c *gin.Context) {
	orderID := c.Param("order_id")
	reports, err := s.deps.Processor.History(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "count": len(reports), "history": reports})
}

func (s *Server) handlePending(c *gin.Context) {
	expiredOnly, _ := strconv.ParseBool(c.DefaultQuery("expired", "false"))
	var entries []domain.ExpiredEntry
	if expiredOnly {
		entries = s.deps.Tracker.AllExpired(c.Request.Context(), s.deps.GracePeriod)
	} else {
		entries = s.deps.Tracker.ListPending(c.Request.Context())
	}
	if entries == nil {
		entries = []domain.ExpiredEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":                len(entries),
		"grace_period_minutes": int(s.deps.GracePeriod.Minutes()),
		"errors":               entries,
	})
}

func (s *Server) handleTrigger(c *gin.Context) {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor not configured"})
		return
	}
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "trigger rate limit exceeded"})
		return
	}
	s.deps.Monitor.TriggerAsync(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"triggered": true, "monitor": s.deps.Monitor.Status()})
}

func (s *Server) handleMonitorStatus(c *gin.Context) {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusOK, gin.H{"running": false, "configured": false})
		return
	}
	c.JSON(http.StatusOK, s.deps.Monitor.Status())
}
