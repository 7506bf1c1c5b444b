// Package api provides the HTTP handlers for callbridge
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shiv6146/callbridge/internal/bridge"
	"github.com/shiv6146/callbridge/internal/callrecord"
	"github.com/shiv6146/callbridge/internal/config"
	"github.com/shiv6146/callbridge/internal/dashboard"
	"github.com/shiv6146/callbridge/internal/metrics"
	"github.com/shiv6146/callbridge/internal/models"
	"github.com/shiv6146/callbridge/internal/store"
	"github.com/shiv6146/callbridge/internal/telephony"
	"github.com/shiv6146/callbridge/internal/webhook"
)

const (
	twimlPath       = "/outbound-call-twiml"
	mediaStreamPath = "/outbound-media-stream"

	paramClientName  = "client_name"
	paramPhoneNumber = "phone_number"

	defaultPageSize = 20
	maxWebhookBody  = 4 << 20

	healthTrackerTimeout = 2 * time.Second
)

// CallRecords is the call record service the handlers use
type CallRecords interface {
	CallInitiated(ctx context.Context, callSID, clientName, phoneNumber, status string) error
	Complete(ctx context.Context, payload *webhook.Payload) (*models.CallRecord, error)
	List(ctx context.Context, page, pageSize int) (*models.CallPage, error)
	Get(ctx context.Context, callID string) (*models.CallRecord, error)
	Summary(ctx context.Context) (*models.CallSummary, error)
}

// Originator places outbound calls
type Originator interface {
	InitiateCall(ctx context.Context, to, twimlURL string) (*telephony.CallInfo, error)
}

// MediaStreams relays accepted media-stream sockets
type MediaStreams interface {
	Serve(ctx context.Context, conn bridge.Conn, clientName, phoneNumber string) error
	Snapshots() []bridge.Snapshot
	ActiveCount() int
}

// Observers serves dashboard sockets
type Observers interface {
	Serve(conn dashboard.Conn)
	Count() int
}

// ActiveCallCounter counts calls tracked across every instance
type ActiveCallCounter interface {
	GetActiveCallCount(ctx context.Context) (int64, error)
}

// Deps are the collaborators of the HTTP layer. Originator, Tracker and Metrics may be nil.
type Deps struct {
	Records    CallRecords
	Originator Originator
	Streams    MediaStreams
	Observers  Observers
	Tracker    ActiveCallCounter
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// Handler holds the API dependencies
type Handler struct {
	config   *config.Config
	records  CallRecords
	caller   Originator
	streams  MediaStreams
	hub      Observers
	tracker  ActiveCallCounter
	metrics  *metrics.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new API handler
func NewHandler(cfg *config.Config, deps Deps) *Handler {
	return &Handler{
		config:  cfg,
		records: deps.Records,
		caller:  deps.Originator,
		streams: deps.Streams,
		hub:     deps.Observers,
		tracker: deps.Tracker,
		metrics: deps.Metrics,
		log:     deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// =============================================================================
// Request/Response DTOs
// =============================================================================

// InitiateCallRequest is the request body for placing an outbound call
type InitiateCallRequest struct {
	Number     string `json:"number" example:"+14155551234"`
	ClientName string `json:"client_name" example:"Jane"`
}

// InitiateCallResponse is returned once Twilio accepted the call
type InitiateCallResponse struct {
	Success     bool   `json:"success" example:"true"`
	Message     string `json:"message" example:"Call initiated"`
	CallSID     string `json:"callSid" example:"CA0123456789abcdef"`
	ClientName  string `json:"clientName" example:"Jane"`
	PhoneNumber string `json:"phoneNumber" example:"+14155551234"`
}

// WebhookResponse acknowledges a processed post-call webhook
type WebhookResponse struct {
	Status string `json:"status" example:"success"`
	CallID string `json:"call_id" example:"conv_123"`
}

// HealthResponse reports process health
type HealthResponse struct {
	Status         string `json:"status" example:"healthy"`
	Service        string `json:"service" example:"callbridge"`
	ActiveCalls    int    `json:"active_calls" example:"2"`
	TrackedCalls   *int64 `json:"tracked_calls,omitempty" example:"5"`
	DashboardConns int    `json:"dashboard_connections" example:"1"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error" example:"Invalid request"`
	Details string `json:"details,omitempty" example:"Phone number is required"`
}

// =============================================================================
// Call Handlers
// =============================================================================

// InitiateCall godoc
// @Summary Place an outbound call
// @Description Dial a number through Twilio and connect it to the voice agent with a personalized greeting
// @Tags Calls
// @Accept json
// @Produce json
// @Security BasicAuth
// @Param call body InitiateCallRequest true "Call parameters"
// @Success 200 {object} InitiateCallResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/initiate_call [post]
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Details: err.Error()})
		return
	}
	if req.Number == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Phone number is required"})
		return
	}
	if req.ClientName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Client name is required"})
		return
	}
	if h.caller == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Outbound calling is not configured"})
		return
	}

	twimlURL := telephony.TwiMLURL(h.publicURL(c), twimlPath, map[string]string{
		paramClientName:  req.ClientName,
		paramPhoneNumber: req.Number,
	})

	info, err := h.caller.InitiateCall(c.Request.Context(), req.Number, twimlURL)
	h.recordCallInitiated(err == nil)
	if err != nil {
		h.log.Error().Err(err).Str("to", req.Number).Msg("Failed to initiate call")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to initiate call", Details: err.Error()})
		return
	}

	if err := h.records.CallInitiated(c.Request.Context(), info.CallSID, req.ClientName, req.Number, info.Status); err != nil {
		h.log.Warn().Err(err).Str("call_sid", info.CallSID).Msg("Failed to store call metadata")
	}

	c.JSON(http.StatusOK, InitiateCallResponse{
		Success:     true,
		Message:     "Call initiated",
		CallSID:     info.CallSID,
		ClientName:  req.ClientName,
		PhoneNumber: req.Number,
	})
}

// OutboundTwiML godoc
// @Summary Call instructions for Twilio
// @Description TwiML connecting the answered call to the media stream, carrying the client name and number as stream parameters
// @Tags Twilio
// @Produce xml
// @Param client_name query string false "Client name"
// @Param phone_number query string false "Dialed number"
// @Success 200 {string} string "TwiML document"
// @Failure 500 {object} ErrorResponse
// @Router /outbound-call-twiml [get]
func (h *Handler) OutboundTwiML(c *gin.Context) {
	params := map[string]string{
		paramClientName:  c.Query(paramClientName),
		paramPhoneNumber: c.Query(paramPhoneNumber),
	}

	streamURL := telephony.StreamURL(h.publicURL(c), mediaStreamPath)
	doc, err := telephony.StreamTwiML(streamURL, params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to render TwiML", Details: err.Error()})
		return
	}

	h.log.Debug().
		Str("stream_url", streamURL).
		Str("client_name", params[paramClientName]).
		Msg("Serving stream TwiML")
	c.Data(http.StatusOK, "text/xml", []byte(doc))
}

// MediaStream upgrades Twilio's media-stream request and relays it until the call ends
func (h *Handler) MediaStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Media stream upgrade failed")
		return
	}

	clientName := c.Query(paramClientName)
	phoneNumber := c.Query(paramPhoneNumber)

	if err := h.streams.Serve(c.Request.Context(), conn, clientName, phoneNumber); err != nil {
		h.log.Warn().Err(err).Msg("Call relay ended with error")
	}
}

// ActiveCalls godoc
// @Summary List live calls
// @Description Snapshot of every call currently being relayed
// @Tags Calls
// @Produce json
// @Security BasicAuth
// @Success 200 {array} bridge.Snapshot
// @Failure 401 {object} ErrorResponse
// @Router /api/calls/active [get]
func (h *Handler) ActiveCalls(c *gin.Context) {
	snapshots := h.streams.Snapshots()
	if snapshots == nil {
		snapshots = []bridge.Snapshot{}
	}
	c.JSON(http.StatusOK, snapshots)
}

// ListCalls godoc
// @Summary List call records
// @Description Completed calls, newest first
// @Tags Calls
// @Produce json
// @Security BasicAuth
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size (max 100)" default(20)
// @Success 200 {object} models.CallPage
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/calls [get]
func (h *Handler) ListCalls(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid page", Details: err.Error()})
		return
	}
	pageSize, err := queryInt(c, "page_size", defaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid page_size", Details: err.Error()})
		return
	}

	result, err := h.records.List(c.Request.Context(), page, pageSize)
	if errors.Is(err, callrecord.ErrInvalidArgument) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid pagination", Details: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch calls", Details: err.Error()})
		return
	}

	if result.Items == nil {
		result.Items = []*models.CallRecord{}
	}
	c.JSON(http.StatusOK, result)
}

// CallSummary godoc
// @Summary Conversion summary
// @Description Total calls, conversions and conversion rate
// @Tags Calls
// @Produce json
// @Security BasicAuth
// @Success 200 {object} models.CallSummary
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/calls/summary [get]
func (h *Handler) CallSummary(c *gin.Context) {
	summary, err := h.records.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to compute summary", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetCall godoc
// @Summary Get a call record
// @Description Get a completed call by its conversation ID
// @Tags Calls
// @Produce json
// @Security BasicAuth
// @Param id path string true "Call ID"
// @Success 200 {object} models.CallRecord
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/call/{id} [get]
func (h *Handler) GetCall(c *gin.Context) {
	record, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Call not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch call", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// =============================================================================
// Webhook Handlers
// =============================================================================

// CallComplete godoc
// @Summary Post-call webhook
// @Description Receives the ElevenLabs post-call transcription, stores the call record and notifies the dashboard
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param ElevenLabs-Signature header string false "HMAC signature"
// @Success 200 {object} WebhookResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /webhook/call_complete [post]
func (h *Handler) CallComplete(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.recordWebhook("invalid")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read body", Details: err.Error()})
		return
	}

	if secret := h.config.ElevenLabsWebhookSecret; secret != "" {
		if !webhook.VerifySignature(body, c.GetHeader(webhook.SignatureHeader), secret) {
			h.recordWebhook("unauthorized")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid signature"})
			return
		}
	}

	payload, err := webhook.Parse(body)
	if err != nil {
		h.recordWebhook("invalid")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid payload", Details: err.Error()})
		return
	}

	record, err := h.records.Complete(c.Request.Context(), payload)
	if err != nil {
		h.recordWebhook("error")
		h.log.Error().Err(err).Str("conversation_id", payload.Data.ConversationID).Msg("Failed to process webhook")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to process webhook", Details: err.Error()})
		return
	}

	h.recordWebhook(payload.Outcome())
	c.JSON(http.StatusOK, WebhookResponse{Status: "success", CallID: record.CallID})
}

// =============================================================================
// Dashboard / Health
// =============================================================================

// Dashboard upgrades a dashboard observer and keeps it subscribed until it leaves
func (h *Handler) Dashboard(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Dashboard upgrade failed")
		return
	}
	h.hub.Serve(conn)
}

// HealthCheck godoc
// @Summary Health check
// @Description Check if the service is healthy
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:  "healthy",
		Service: "callbridge",
	}
	if h.streams != nil {
		resp.ActiveCalls = h.streams.ActiveCount()
	}
	if h.hub != nil {
		resp.DashboardConns = h.hub.Count()
	}
	if h.tracker != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTrackerTimeout)
		defer cancel()
		if n, err := h.tracker.GetActiveCallCount(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Failed to count tracked calls")
		} else {
			resp.TrackedCalls = &n
		}
	}
	c.JSON(http.StatusOK, resp)
}

// publicURL is the configured public base, or the request's own host
func (h *Handler) publicURL(c *gin.Context) string {
	if h.config.PublicURL != "" {
		return h.config.PublicURL
	}
	host := c.Request.Host
	if host == "" {
		host = "localhost"
	}
	return "https://" + host
}

func (h *Handler) recordWebhook(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordWebhook(outcome)
	}
}

func (h *Handler) recordCallInitiated(ok bool) {
	if h.metrics != nil {
		h.metrics.RecordCallInitiated(ok)
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
