package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shaneisley/sigmashift/pkg/logging"
	"github.com/shaneisley/sigmashift/pkg/metrics"
	"github.com/shaneisley/sigmashift/pkg/schedulers"
	"go.uber.org/zap"
)

// Handler answers protocol messages with a Service
type Handler struct {
	service *Service
	logger  *logging.Logger
	newID   func() string
	started time.Time
}

// NewHandler creates a protocol handler
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		service: service,
		logger:  logger,
		newID:   func() string { return uuid.NewString() },
		started: time.Now(),
	}
}

// Handle processes one JSON message and returns the response to send back.
// A panic while handling is logged and answered with an error response.
func (h *Handler) Handle(ctx context.Context, message []byte) (response ProtocolMessageJSON) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panic", zap.Any("panic", r), zap.Stack("stack"))
			response = errorResponse("internal error")
		}
	}()
	return h.handle(ctx, message)
}

func (h *Handler) handle(ctx context.Context, message []byte) ProtocolMessageJSON {
	var typeCheck struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &typeCheck); err != nil {
		return errorResponse("invalid JSON")
	}

	switch typeCheck.Type {
	case TypeHandshake:
		var request HandshakeRequestJSON
		if err := json.Unmarshal(message, &request); err != nil {
			return errorResponse("invalid handshake request format")
		}
		return h.handleHandshake(request)

	case TypeSearchRequest:
		var request SearchRequestJSON
		if err := json.Unmarshal(message, &request); err != nil {
			return errorResponse("invalid search request format")
		}
		return h.handleSearch(ctx, request)

	case TypeSchedulersRequest:
		return h.handleSchedulers()

	case TypeStatsRequest:
		return h.handleStats()

	default:
		return errorResponse("unknown message type")
	}
}

func (h *Handler) handleHandshake(req HandshakeRequestJSON) ProtocolMessageJSON {
	if req.Version != "" && req.Version != ProtocolVersion {
		return errorResponse("unsupported protocol version: " + req.Version)
	}
	h.logger.Debug("handshake", zap.String("client", req.Client))
	return HandshakeResponseJSON{
		Type:    TypeHandshakeResponse,
		Status:  "ok",
		Version: ProtocolVersion,
		Message: "handshake successful",
	}
}

func (h *Handler) handleSearch(ctx context.Context, msg SearchRequestJSON) ProtocolMessageJSON {
	requestID := h.newID()
	logger := h.logger.WithRequest(requestID)

	model, req := h.service.Resolve(msg)
	start := time.Now()

	outcome, err := h.service.Search(ctx, model, req, !msg.NoCache, logger)
	if err != nil {
		logger.LogError("search", err, zap.String("model", model), zap.String("scheduler", req.Scheduler))
		return ErrorResponseJSON{Type: TypeError, Error: err.Error(), RequestID: requestID}
	}

	logger.Info("search completed",
		zap.String("model", model),
		zap.String("scheduler", req.Scheduler),
		zap.Float64("shift", outcome.Result.Shift),
		zap.Bool("cached", outcome.Cached),
		zap.Duration("elapsed", time.Since(start)))

	resp := SearchResponseJSON{
		Type:      TypeSearchResponse,
		Status:    "ok",
		RequestID: requestID,
		Model:     model,
		Cached:    outcome.Cached,
		Result:    outcome.Result,
	}
	if outcome.Result.Cause != nil {
		resp.Cause = outcome.Result.Cause.Error()
	}
	return resp
}

func (h *Handler) handleSchedulers() ProtocolMessageJSON {
	all := schedulers.All()
	infos := make([]SchedulerInfoJSON, len(all))
	for i, e := range all {
		infos[i] = SchedulerInfoJSON{Name: e.Name, ShiftSensitive: e.ShiftSensitive}
	}
	return SchedulersResponseJSON{
		Type:       TypeSchedulersResponse,
		Status:     "ok",
		Schedulers: infos,
		Models:     h.service.ModelNames(),
	}
}

func (h *Handler) handleStats() ProtocolMessageJSON {
	searches, cache := h.service.Stats()
	return StatsResponseJSON{
		Type:     TypeStatsResponse,
		Status:   "ok",
		Uptime:   time.Since(h.started).Seconds(),
		Searches: searches,
		Cache:    cache,
		Runtime:  metrics.Runtime(),
	}
}
