package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaneisley/sigmashift/pkg/history"
	"github.com/shaneisley/sigmashift/pkg/logging"
	"github.com/shaneisley/sigmashift/pkg/metrics"
	"github.com/shaneisley/sigmashift/pkg/sampling"
	"github.com/shaneisley/sigmashift/pkg/shift"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SearchOutcome is a search result and whether it came from the cache
type SearchOutcome struct {
	Model  string
	Result *shift.Result
	Cached bool
}

// Service runs shift searches on behalf of daemon clients. Searches for
// the same model are serialized; different models proceed in parallel.
type Service struct {
	presets   *sampling.Presets
	evaluator shift.Evaluator
	store     *history.Store
	limiter   *rate.Limiter
	recorder  *metrics.Recorder
	logger    *logging.Logger

	mu           sync.RWMutex
	defaultModel string
	defaults     shift.Request

	modelsMu sync.Mutex
	models   map[string]*modelEntry
}

type modelEntry struct {
	mu    sync.Mutex
	model *sampling.Model
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithStore enables the result cache
func WithStore(store *history.Store) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

// WithLimiter throttles searches that miss the cache
func WithLimiter(limiter *rate.Limiter) ServiceOption {
	return func(s *Service) {
		s.limiter = limiter
	}
}

// WithRecorder records a metric for every search
func WithRecorder(recorder *metrics.Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithServiceLogger sets the service logger
func WithServiceLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a search service over a preset registry
func NewService(presets *sampling.Presets, evaluator shift.Evaluator, opts ...ServiceOption) *Service {
	s := &Service{
		presets:      presets,
		evaluator:    evaluator,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       logging.Nop(),
		defaultModel: sampling.DefaultModel,
		defaults:     shift.DefaultRequest(),
		models:       make(map[string]*modelEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDefaults replaces the values used for fields a client omits
func (s *Service) SetDefaults(model string, req shift.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if model != "" {
		s.defaultModel = model
	}
	s.defaults = req
}

// Defaults returns the current default model and request
func (s *Service) Defaults() (string, shift.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultModel, s.defaults
}

// Resolve turns a protocol message into a model name and full request
func (s *Service) Resolve(msg SearchRequestJSON) (string, shift.Request) {
	model, defaults := s.Defaults()
	if msg.Model != "" {
		model = msg.Model
	}
	return model, msg.Apply(defaults)
}

// Search runs or recalls one search. Fatal search errors are returned and
// never cached.
func (s *Service) Search(ctx context.Context, modelName string, req shift.Request, useCache bool, logger *logging.Logger) (*SearchOutcome, error) {
	if logger == nil {
		logger = s.logger
	}

	start := time.Now()
	outcome, err := s.search(ctx, modelName, req, useCache, logger)
	if s.recorder != nil {
		s.recorder.Record(newSearchMetric(modelName, req, outcome, err, time.Since(start)))
	}
	return outcome, err
}

func (s *Service) search(ctx context.Context, modelName string, req shift.Request, useCache bool, logger *logging.Logger) (*SearchOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	entry, err := s.model(modelName)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	key := history.KeyFor(entry.model.Config(), req)
	if useCache && s.store != nil {
		cached, err := s.store.Lookup(key)
		switch {
		case err == nil:
			result, err := cached.Result()
			if err == nil {
				if original, perr := entry.model.Params(); perr == nil {
					result.Original = original
				}
				logger.Debug("cache hit", zap.String("model", modelName), zap.Int("hits", cached.Hits))
				return &SearchOutcome{Model: modelName, Result: result, Cached: true}, nil
			}
			logger.Warn("ignoring unreadable cache entry", zap.Error(err))
		case !errors.Is(err, history.ErrNotFound):
			logger.Warn("cache lookup failed", zap.Error(err))
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search throttled: %w", err)
	}

	result, err := shift.Search(req, entry.model, s.evaluator, shift.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if err := s.store.Save(history.NewEntry(key, result)); err != nil {
			logger.Warn("failed to cache result", zap.Error(err))
		}
	}
	return &SearchOutcome{Model: modelName, Result: result}, nil
}

func newSearchMetric(model string, req shift.Request, outcome *SearchOutcome, err error, elapsed time.Duration) metrics.SearchMetric {
	m := metrics.SearchMetric{
		Model:     model,
		Scheduler: req.Scheduler,
		Duration:  elapsed,
	}
	if err != nil {
		m.Error = err.Error()
		return m
	}
	m.Cached = outcome.Cached
	m.Stop = string(outcome.Result.Stop)
	m.Shift = outcome.Result.Shift
	m.Iterations = outcome.Result.Iterations
	return m
}

// Stats reports recorded search activity and cache statistics. Either part
// is nil when the service runs without it.
func (s *Service) Stats() (*metrics.AggregatedStats, map[string]interface{}) {
	var searches *metrics.AggregatedStats
	if s.recorder != nil {
		searches = s.recorder.Window()
	}

	var cache map[string]interface{}
	if s.store != nil {
		stats, err := s.store.Stats()
		if err != nil {
			s.logger.Warn("failed to read cache stats", zap.Error(err))
		} else {
			cache = stats
		}
	}
	return searches, cache
}

// model returns the shared handle of a preset, creating it on first use
func (s *Service) model(name string) (*modelEntry, error) {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	if entry, ok := s.models[name]; ok {
		return entry, nil
	}
	model, err := sampling.LookupModel(s.presets, name)
	if err != nil {
		return nil, err
	}
	entry := &modelEntry{model: model}
	s.models[name] = entry
	return entry, nil
}

// ModelNames lists the presets the service can search
func (s *Service) ModelNames() []string {
	return s.presets.Names()
}
