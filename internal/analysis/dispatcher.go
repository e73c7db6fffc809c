package analysis

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/metrics"
	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/pkg/logger"
	"github.com/roofscope/backend/pkg/utils"
)

const verdictCacheTTL = 24 * time.Hour

// Analyzer produces a provider verdict for one asset.
type Analyzer interface {
	Analyze(ctx context.Context, asset models.EvidenceAsset) (*models.AIAnalysis, error)
}

// Recorder persists a verdict onto its evidence record.
type Recorder interface {
	RecordAnalysis(ctx context.Context, evidenceID string, analysis models.AIAnalysis) (*models.EvidenceAsset, error)
}

// VerdictCache deduplicates provider calls for identical content references.
type VerdictCache interface {
	GetAnalysis(ctx context.Context, contentHash string) (*models.AIAnalysis, bool, error)
	SetAnalysis(ctx context.Context, contentHash string, analysis models.AIAnalysis, ttl time.Duration) error
}

// Dispatcher runs provider analysis off the request path. Attach enqueues and
// returns immediately; a dropped or failed job leaves the evidence without a
// verdict, which is indistinguishable from a provider that never calls back,
// and the step gate simply stays unsatisfied.
type Dispatcher struct {
	analyzer Analyzer
	cache    VerdictCache
	queue    chan models.EvidenceAsset
	workers  int

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDispatcher(analyzer Analyzer, cache VerdictCache, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		analyzer: analyzer,
		cache:    cache,
		queue:    make(chan models.EvidenceAsset, queueSize),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool recording verdicts through recorder.
func (d *Dispatcher) Start(recorder Recorder) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(recorder)
	}

	logger.Info("Analysis dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.queue)),
	)
}

// Stop closes the queue, cancels in-flight provider calls and waits for the
// workers to drain. Shutdown is bounded by the cancellation, not by the
// provider timeout.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
		d.cancel()
	})
	d.wg.Wait()
}

// Enqueue never blocks; when the queue is full the job is dropped.
func (d *Dispatcher) Enqueue(asset models.EvidenceAsset) {
	select {
	case d.queue <- asset:
	default:
		metrics.AnalysisDropped.Inc()
		logger.Warn("Analysis queue full, dropping job",
			zap.String("evidence_id", asset.ID),
			zap.String("session_id", asset.SessionID),
		)
	}
}

func (d *Dispatcher) worker(recorder Recorder) {
	defer d.wg.Done()

	for asset := range d.queue {
		d.process(recorder, asset)
	}
}

func (d *Dispatcher) process(recorder Recorder, asset models.EvidenceAsset) {
	ctx := d.ctx
	contentHash := utils.HashString(asset.ContentRef)

	if d.cache != nil {
		if cached, ok, err := d.cache.GetAnalysis(ctx, contentHash); err == nil && ok {
			logger.Debug("Reusing cached verdict",
				zap.String("evidence_id", asset.ID),
				zap.String("content_hash", contentHash),
			)
			d.record(ctx, recorder, asset.ID, *cached)
			return
		}
	}

	start := time.Now()
	verdict, err := d.analyzer.Analyze(ctx, asset)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AnalysisFailures.Inc()
		logger.Warn("Provider analysis failed, evidence stays pending",
			zap.String("evidence_id", asset.ID),
			zap.Error(err),
		)
		return
	}

	d.record(ctx, recorder, asset.ID, *verdict)

	if d.cache != nil {
		if err := d.cache.SetAnalysis(ctx, contentHash, *verdict, verdictCacheTTL); err != nil {
			logger.Warn("Failed to cache verdict", zap.Error(err))
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, recorder Recorder, evidenceID string, verdict models.AIAnalysis) {
	if _, err := recorder.RecordAnalysis(ctx, evidenceID, verdict); err != nil {
		logger.Error("Failed to record analysis",
			zap.String("evidence_id", evidenceID),
			zap.Error(err),
		)
	}
}
