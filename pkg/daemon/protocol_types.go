package daemon

import (
	"github.com/shaneisley/sigmashift/pkg/metrics"
	"github.com/shaneisley/sigmashift/pkg/shift"
)

// ProtocolVersion is the only protocol version the daemon speaks
const ProtocolVersion = "1.0"

// Message types of the JSON-lines protocol
const (
	TypeHandshake          = "handshake"
	TypeHandshakeResponse  = "handshake_response"
	TypeSearchRequest      = "search_request"
	TypeSearchResponse     = "search_response"
	TypeSchedulersRequest  = "schedulers_request"
	TypeSchedulersResponse = "schedulers_response"
	TypeStatsRequest       = "stats_request"
	TypeStatsResponse      = "stats_response"
	TypeError              = "error"
)

// HandshakeRequestJSON represents a client handshake request in JSON protocol
type HandshakeRequestJSON struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Client  string `json:"client"`
}

// HandshakeResponseJSON represents a daemon handshake response in JSON protocol
type HandshakeResponseJSON struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Version string `json:"version"`
	Message string `json:"message,omitempty"`
}

// SearchRequestJSON asks the daemon for a shift search. Omitted fields take
// the daemon's configured defaults.
type SearchRequestJSON struct {
	Type      string   `json:"type"`
	Model     string   `json:"model,omitempty"`
	Scheduler string   `json:"scheduler,omitempty"`
	StepsHigh *int     `json:"steps_high,omitempty"`
	StepsLow  *int     `json:"steps_low,omitempty"`
	Denoise   *float64 `json:"denoise,omitempty"`
	Boundary  *float64 `json:"boundary,omitempty"`
	Interval  *float64 `json:"interval,omitempty"`
	NoCache   bool     `json:"no_cache,omitempty"`
}

// NewSearchRequestJSON fills every field from a complete request
func NewSearchRequestJSON(model string, req shift.Request) SearchRequestJSON {
	return SearchRequestJSON{
		Type:      TypeSearchRequest,
		Model:     model,
		Scheduler: req.Scheduler,
		StepsHigh: &req.StepsHigh,
		StepsLow:  &req.StepsLow,
		Denoise:   &req.Denoise,
		Boundary:  &req.Boundary,
		Interval:  &req.Interval,
	}
}

// NewPartialSearchRequestJSON carries only the fields of req named in set,
// keyed by their config names ("model", "scheduler", "steps_high",
// "steps_low", "denoise", "boundary", "interval"). The daemon fills the rest
// from its current defaults.
func NewPartialSearchRequestJSON(model string, req shift.Request, set map[string]bool) SearchRequestJSON {
	msg := SearchRequestJSON{Type: TypeSearchRequest}
	if set["model"] {
		msg.Model = model
	}
	if set["scheduler"] {
		msg.Scheduler = req.Scheduler
	}
	if set["steps_high"] {
		msg.StepsHigh = &req.StepsHigh
	}
	if set["steps_low"] {
		msg.StepsLow = &req.StepsLow
	}
	if set["denoise"] {
		msg.Denoise = &req.Denoise
	}
	if set["boundary"] {
		msg.Boundary = &req.Boundary
	}
	if set["interval"] {
		msg.Interval = &req.Interval
	}
	return msg
}

// Apply overlays the fields present in the message onto base
func (m SearchRequestJSON) Apply(base shift.Request) shift.Request {
	req := base
	if m.Scheduler != "" {
		req.Scheduler = m.Scheduler
	}
	if m.StepsHigh != nil {
		req.StepsHigh = *m.StepsHigh
	}
	if m.StepsLow != nil {
		req.StepsLow = *m.StepsLow
	}
	if m.Denoise != nil {
		req.Denoise = *m.Denoise
	}
	if m.Boundary != nil {
		req.Boundary = *m.Boundary
	}
	if m.Interval != nil {
		req.Interval = *m.Interval
	}
	return req
}

// SearchResponseJSON carries a search result. The embedded result's fields
// are inlined into the message.
type SearchResponseJSON struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
	Cached    bool   `json:"cached"`
	Cause     string `json:"cause,omitempty"`
	*shift.Result
}

// SchedulersRequestJSON asks for the scheduler catalog and known models
type SchedulersRequestJSON struct {
	Type string `json:"type"`
}

// SchedulerInfoJSON describes one catalog entry
type SchedulerInfoJSON struct {
	Name           string `json:"name"`
	ShiftSensitive bool   `json:"shift_sensitive"`
}

// SchedulersResponseJSON lists the scheduler catalog and preset names
type SchedulersResponseJSON struct {
	Type       string              `json:"type"`
	Status     string              `json:"status"`
	Schedulers []SchedulerInfoJSON `json:"schedulers"`
	Models     []string            `json:"models"`
}

// StatsRequestJSON asks for daemon activity statistics
type StatsRequestJSON struct {
	Type string `json:"type"`
}

// StatsResponseJSON reports recent searches, the result cache and process
// resource usage
type StatsResponseJSON struct {
	Type     string                   `json:"type"`
	Status   string                   `json:"status"`
	Uptime   float64                  `json:"uptime_seconds"`
	Searches *metrics.AggregatedStats `json:"searches,omitempty"`
	Cache    map[string]interface{}   `json:"cache,omitempty"`
	Runtime  metrics.RuntimeSnapshot  `json:"runtime"`
}

// ErrorResponseJSON represents an error response in JSON protocol
type ErrorResponseJSON struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ProtocolMessageJSON is a union interface for all JSON protocol messages
type ProtocolMessageJSON interface {
	GetType() string
}

func (m HandshakeRequestJSON) GetType() string   { return m.Type }
func (m HandshakeResponseJSON) GetType() string  { return m.Type }
func (m SearchRequestJSON) GetType() string      { return m.Type }
func (m SearchResponseJSON) GetType() string     { return m.Type }
func (m SchedulersRequestJSON) GetType() string  { return m.Type }
func (m SchedulersResponseJSON) GetType() string { return m.Type }
func (m StatsRequestJSON) GetType() string       { return m.Type }
func (m StatsResponseJSON) GetType() string      { return m.Type }
func (m ErrorResponseJSON) GetType() string      { return m.Type }

func errorResponse(msg string) ErrorResponseJSON {
	return ErrorResponseJSON{Type: TypeError, Error: msg}
}
