package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ramccor/recall/internal/chunk"
	"github.com/ramccor/recall/internal/config"
	"github.com/ramccor/recall/internal/embedding"
	"github.com/ramccor/recall/internal/obslog"
	"github.com/ramccor/recall/internal/project"
	"github.com/ramccor/recall/internal/recallerr"
	"github.com/ramccor/recall/internal/transcript"
	"github.com/ramccor/recall/internal/vectorstore"
)

// processSoftDeadline bounds one file-processing attempt; a timed-out file
// is re-queued with its retry counter incremented rather than wedging the
// loop.
const processSoftDeadline = 5 * time.Minute

// Engine is the ingestion scheduler: one event loop alternating scan,
// process, and persist, with CPU-bound embedding work offloaded to the
// embedding provider's worker thread.
type Engine struct {
	cfg   *config.Config
	state *State
	queue *Queue
	guard *Guard

	embedder embedding.Provider
	store    vectorstore.Store
	watcher  *Watcher

	log     obslog.Logger
	metrics obslog.Metrics

	currentProject string
	firstSeen      map[string]time.Time

	statsMu sync.RWMutex
	stats   EngineStats
}

// EngineStats is the subset of the status diagnostic the ingestion engine
// can answer from its own state; the retrieval service fills in
// collection_count from the vector store.
type EngineStats struct {
	IndexedFiles      int
	PendingFiles      int
	LastCycleAgo      time.Duration
	EmbeddingProvider string
	CPUPercent        float64
	MemoryMB          float64
}

// Stats returns a snapshot safe to read from a concurrent RPC handler
// goroutine while Run's event loop keeps mutating the engine.
func (e *Engine) Stats() EngineStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// The following accessors let Engine satisfy retrieve.IngestStats without
// that package importing ingest's concrete types.
func (e *Engine) IndexedCount() int            { return e.Stats().IndexedFiles }
func (e *Engine) PendingCount() int            { return e.Stats().PendingFiles }
func (e *Engine) LastCycleAge() time.Duration  { return e.Stats().LastCycleAgo }
func (e *Engine) CPUPercent() float64          { return e.Stats().CPUPercent }
func (e *Engine) MemoryMB() float64            { return e.Stats().MemoryMB }

func (e *Engine) refreshStats(lastCycleAt time.Time) {
	indexed := 0
	for _, sp := range e.state.Snapshot() {
		if sp.CompletedAt != "" && !sp.Quarantined {
			indexed++
		}
	}
	e.statsMu.Lock()
	e.stats = EngineStats{
		IndexedFiles:      indexed,
		PendingFiles:      e.queue.Len(),
		LastCycleAgo:      time.Since(lastCycleAt),
		EmbeddingProvider: e.embedder.Name(),
		CPUPercent:        e.guard.AvgCPUPercent(),
		MemoryMB:          e.guard.CurrentRSSMB(),
	}
	e.statsMu.Unlock()
}

// New constructs an Engine around an already-initialized embedding
// provider and vector store; the engine does not own their lifecycle
// beyond using them.
func New(cfg *config.Config, embedder embedding.Provider, store vectorstore.Store, log obslog.Logger, metrics obslog.Metrics) (*Engine, error) {
	st, err := LoadState(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = obslog.NewZerologLogger("info")
	}
	if metrics == nil {
		metrics = obslog.NoopMetrics{}
	}
	w, err := NewWatcher(cfg.LogRoots, log)
	if err != nil {
		log.Error("watcher_init_failed", map[string]any{"error": err.Error()})
		w = nil
	}
	return &Engine{
		cfg:       cfg,
		state:     st,
		queue:     NewQueue(cfg.QueueCapacity),
		guard:     NewGuard(cfg.OperationalMemoryLimitMB, cfg.MaxCPUPercentPerCore),
		embedder:  embedder,
		store:     store,
		watcher:   w,
		log:       log,
		metrics:   metrics,
		firstSeen: make(map[string]time.Time),
	}, nil
}

// Run drives the event loop until ctx is cancelled. On cancellation it
// stops accepting new files, lets the in-flight file reach its next commit
// point, persists state, and returns.
func (e *Engine) Run(ctx context.Context) error {
	defer e.shutdown()

	stopCPU := make(chan struct{})
	go CPUSampler(e.guard, 5*time.Second, stopCPU)
	defer close(stopCPU)

	var lastInterval time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}
		cycleStart := time.Now()
		if err := e.scanCycle(); err != nil {
			e.log.Error("scan_cycle_failed", map[string]any{"error": err.Error()})
		}
		e.refreshStats(cycleStart)

		processed := e.processOne(ctx)

		interval := e.loopInterval()
		if interval != lastInterval {
			// Log once per transition, never per iteration.
			e.log.Info("loop_interval_changed", map[string]any{"interval": interval.String()})
			lastInterval = interval
		}
		if !processed {
			select {
			case <-ctx.Done():
				return nil
			case path := <-e.watcherChanged():
				e.enqueueChanged(path)
			case <-time.After(interval):
			}
		}
	}
}

func (e *Engine) watcherChanged() <-chan string {
	if e.watcher == nil {
		return nil
	}
	return e.watcher.Changed
}

func (e *Engine) enqueueChanged(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	e.enqueueFile(path, info)
}

func (e *Engine) loopInterval() time.Duration {
	if e.queue.HasHot() {
		return e.cfg.HotCheckInterval
	}
	return e.cfg.ImportFrequency
}

// scanCycle enumerates transcript files and enqueues each according to
// its resumption state and temperature. Files whose committed offset
// already matches their size and mtime are skipped; files that shrank
// below the committed offset are reset to zero.
func (e *Engine) scanCycle() error {
	files, err := Scan(e.cfg.LogRoots)
	if err != nil {
		return err
	}
	coldBudget := e.cfg.MaxColdPerCycle
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		sp, existed := e.state.Get(f)
		if existed && sp.ByteOffset == info.Size() && sp.LastMtime == mtimeFloat(info) {
			continue
		}
		if existed && sp.ByteOffset > info.Size() {
			sp.ByteOffset = 0
			e.state.Set(f, sp)
		}

		age := time.Since(info.ModTime())
		firstSeen, ok := e.firstSeen[f]
		if !ok {
			firstSeen = time.Now()
			e.firstSeen[f] = firstSeen
		}
		queuedWait := time.Since(firstSeen)
		id := project.Resolve(f, e.cfg.LogMountPrefix, "")
		differentProject := e.currentProject != "" && e.currentProject != id.NormalizedName
		temp, base := Classify(age, queuedWait, differentProject, Windows{
			Hot: e.cfg.HotWindow, Warm: e.cfg.WarmWindow, MaxWarmWait: e.cfg.MaxWarmWait,
		})
		if temp == TemperatureCold {
			if coldBudget <= 0 {
				continue
			}
			coldBudget--
		}
		e.queue.Enqueue(Entry{
			Path:        f,
			Temperature: temp,
			Priority:    PriorityKey(base, age),
			EnqueuedAt:  time.Now(),
			Project:     id.NormalizedName,
		})
	}
	return nil
}

func (e *Engine) enqueueFile(path string, info os.FileInfo) {
	age := time.Since(info.ModTime())
	temp, base := Classify(age, 0, false, Windows{Hot: e.cfg.HotWindow, Warm: e.cfg.WarmWindow, MaxWarmWait: e.cfg.MaxWarmWait})
	e.queue.Enqueue(Entry{Path: path, Temperature: temp, Priority: PriorityKey(base, age), EnqueuedAt: time.Now()})
}

// processOne dequeues and drives at most one file through
// parse→chunk→embed→upsert, applying the resource guards before starting.
// Returns whether a file was actually processed this tick.
func (e *Engine) processOne(ctx context.Context) bool {
	entry, ok := e.queue.Pop()
	if !ok {
		return false
	}

	// The resource guards defer, never drop: release the in-flight mark
	// first so the re-enqueue actually lands.
	if e.guard.OverMemory() {
		e.guard.ReleaseMemory()
		e.queue.Complete(entry.Path)
		e.queue.Enqueue(entry)
		return false
	}
	if e.guard.OverCPU() {
		e.queue.Complete(entry.Path)
		e.queue.Enqueue(entry)
		return false
	}

	e.currentProject = entry.Project
	start := time.Now()
	// Detached from ctx so a shutdown signal lets the in-flight file run to
	// its commit point; the soft deadline still bounds the attempt.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processSoftDeadline)
	err := e.processFile(pctx, entry.Path)
	cancel()
	e.queue.Complete(entry.Path)
	if err != nil {
		e.metrics.IncCounter("ingest_file_failures", map[string]string{"temperature": entry.Temperature.String()})
		e.handleFailure(entry, err)
	} else {
		e.metrics.IncCounter("ingest_files_processed", map[string]string{"temperature": entry.Temperature.String()})
		e.metrics.ObserveHistogram("ingest_file_seconds", time.Since(start).Seconds(), nil)
		delete(e.firstSeen, entry.Path)
	}
	// Forced GC plus heap release after each file keeps steady-state RSS
	// predictable.
	e.guard.ReleaseMemory()
	return true
}

func (e *Engine) handleFailure(entry Entry, err error) {
	switch {
	case errors.Is(err, recallerr.ErrFileGone):
		// no error surfaced; already dropped from queue/dedup
	case errors.Is(err, recallerr.ErrFileTruncated):
		sp, _ := e.state.Get(entry.Path)
		sp.ByteOffset = 0
		e.state.Set(entry.Path, sp)
		e.queue.Enqueue(entry)
	case errors.Is(err, recallerr.ErrTransientIO):
		sp, _ := e.state.Get(entry.Path)
		sp.RetryCount++
		e.state.Set(entry.Path, sp)
		if sp.RetryCount >= e.cfg.RetryMax {
			sp.Quarantined = true
			e.state.Set(entry.Path, sp)
			entry.Temperature = TemperatureCold
			entry.Priority = PriorityKey(4, 0)
		}
		e.queue.Enqueue(entry)
	default:
		e.log.Error("process_file_failed", map[string]any{"path": entry.Path, "error": err.Error()})
	}
}

// processFile drives one transcript file from its last committed offset
// through parsing, chunking, embedding, and upsert, then commits state.
// Within a single file, chunks are produced, embedded, and upserted in
// chunk_index order; a later chunk never commits before an earlier one.
func (e *Engine) processFile(ctx context.Context, path string) error {
	sp, existed := e.state.Get(path)
	resumeFrom := int64(0)
	if existed {
		resumeFrom = sp.ByteOffset
	}

	parser, err := transcript.Open(path, resumeFrom, e.cfg.MaxToolOutputs, e.cfg.MaxToolOutputChars)
	if err != nil {
		return err
	}
	defer parser.Close()

	id := project.Resolve(path, e.cfg.LogMountPrefix, "")
	conversationID := conversationIDFromPath(path)
	suffix := embedding.ProviderSuffix(e.embedder.Name())
	collection := project.CollectionID(id.NormalizedName, suffix)

	c := chunk.New(conversationID, id.NormalizedName, chunk.Limits{
		TokenLimit: e.cfg.Chunk.TokenLimit, CharLimit: e.cfg.Chunk.CharLimit,
		OverlapTokens: e.cfg.Chunk.OverlapTokens, OverlapChars: e.cfg.Chunk.OverlapChars,
		TokenRatio: e.cfg.TokenCharRatio,
	}, nil, sp.Chunks)

	var lastOffset = resumeFrom
	var messageCount int
	for {
		res, err := parser.Next()
		if err != nil {
			break
		}
		lastOffset = res.NextOffset
		if res.Message == nil {
			continue
		}
		messageCount++
		chunks := c.Add(*res.Message)
		if err := e.embedAndUpsert(ctx, collection, chunks); err != nil {
			return err
		}
	}
	final := c.Finish()
	if err := e.embedAndUpsert(ctx, collection, final); err != nil {
		return err
	}
	// Chunks were upserted as they were emitted, before this scan's running
	// total was known; stamp total_chunks on them now.
	for _, ch := range c.FinalizeScan() {
		if err := e.store.SetPayload(ctx, collection, ch.ChunkID, map[string]any{"total_chunks": ch.TotalChunks}); err != nil {
			return err
		}
	}

	info, statErr := os.Stat(path)
	newSP := StreamPosition{
		ByteOffset:  lastOffset,
		Chunks:      sp.Chunks + c.Count(),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if statErr == nil {
		newSP.LastMtime = mtimeFloat(info)
	}
	if messageCount == 0 {
		newSP.Skip = true
		if newSP.ByteOffset == 0 {
			newSP.SkipReason = "empty"
		} else {
			newSP.SkipReason = "summary_only"
		}
	}
	e.state.Set(path, newSP)
	return e.state.Persist()
}

func (e *Engine) embedAndUpsert(ctx context.Context, collection string, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", recallerr.ErrTransientIO, err)
	}
	if err := e.store.EnsureCollection(ctx, collection, e.embedder.Dimension()); err != nil {
		return err
	}
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{ID: c.ChunkID, Vector: vecs[i], Payload: chunkPayload(c)}
	}
	return e.store.Upsert(ctx, collection, points)
}

func chunkPayload(c chunk.Chunk) map[string]any {
	return map[string]any{
		"conversation_id": c.ConversationID,
		"project":         c.Project,
		"text":            c.Text,
		"start_role":      c.StartRole,
		"timestamp":       c.Timestamp,
		"chunk_index":     c.ChunkIndex,
		"total_chunks":    c.TotalChunks,
		"files_analyzed":  c.FilesAnalyzed,
		"files_edited":    c.FilesEdited,
		"tools_used":      c.ToolsUsed,
		"concepts":        c.Concepts,
		"tool_outputs":    c.ToolOutputs,
		"git_file_changes": c.GitFileChanges,
		"metadata_version": c.MetadataVersion,
		"truncated":       c.Truncated,
	}
}

func conversationIDFromPath(path string) string {
	base := path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}

func (e *Engine) shutdown() {
	if err := e.state.Persist(); err != nil {
		e.log.Error("shutdown_persist_failed", map[string]any{"error": err.Error()})
	}
	if e.watcher != nil {
		e.watcher.Close()
	}
}
