package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ramccor/recall/internal/embedding"
	"github.com/ramccor/recall/internal/obslog"
	"github.com/ramccor/recall/internal/project"
	"github.com/ramccor/recall/internal/recallerr"
	"github.com/ramccor/recall/internal/vectorstore"
)

// Option configures a Service at construction time.
type Option func(*Service)

func WithLogger(l obslog.Logger) Option   { return func(s *Service) { s.log = l } }
func WithMetrics(m obslog.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithClock(c Clock) Option            { return func(s *Service) { s.clock = c } }

// Clock abstracts time.Now for deterministic decay tests.
type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service implements the retrieval engine's external operations over a
// shared embedding provider and vector store.
type Service struct {
	store    vectorstore.Store
	embedder embedding.Provider

	log     obslog.Logger
	metrics obslog.Metrics
	clock   Clock

	decay          DecayParams
	logMountPrefix string
}

// New constructs a Service.
func New(store vectorstore.Store, embedder embedding.Provider, decay DecayParams, logMountPrefix string, opts ...Option) *Service {
	s := &Service{
		store:          store,
		embedder:       embedder,
		log:            obslog.NewZerologLogger("info"),
		metrics:        obslog.NoopMetrics{},
		clock:          systemClock{},
		decay:          decay,
		logMountPrefix: logMountPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReflectRequest is reflect_on_past's argument set.
type ReflectRequest struct {
	Query          string
	Limit          int
	MinScore       float32
	Project        string // "" = resolve from WorkingDir; "all" = every collection
	WorkingDir     string
	UseDecay       UseDecay
	Brief          bool
	ResponseFormat string // "structured" | "markdown"
	IncludeRaw     bool
}

// ReflectResult is one merged, ranked candidate.
type ReflectResult struct {
	Score          float32
	Timestamp      string
	Project        string
	Role           string
	Excerpt        string
	ConversationID string
	Raw            map[string]any
}

// ReflectResponse is reflect_on_past's return value.
type ReflectResponse struct {
	Query         string
	Results       []ReflectResult
	EmbedProvider string
	DecayUsed     bool
	Collections   []string
	EmbedMillis   int64
	SearchMillis  int64
	Formatted     string
}

// ReflectOnPast resolves the candidate collection set, embeds the query,
// issues concurrent searches, applies optional decay re-ranking, sorts
// and trims, then formats. The min-score threshold is applied by the
// store before decay runs, so decay can only re-order survivors, never
// rescue a point that fell below the threshold.
func (s *Service) ReflectOnPast(ctx context.Context, req ReflectRequest) (ReflectResponse, error) {
	if req.Query == "" {
		return ReflectResponse{}, fmt.Errorf("%w: query is required", recallerr.ErrInvalidArgument)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	collections, err := s.resolveCollections(ctx, req.Project, req.WorkingDir)
	if err != nil {
		return ReflectResponse{}, err
	}

	embedStart := time.Now()
	vecs, err := s.embedder.EmbedBatch(ctx, []string{req.Query})
	if err != nil {
		return ReflectResponse{}, fmt.Errorf("%w: %v", recallerr.ErrTransientIO, err)
	}
	embedMillis := time.Since(embedStart).Milliseconds()

	perCollectionLimit := int(float64(limit) * 1.5)
	searchStart := time.Now()
	points, err := s.store.Search(ctx, collections, vecs[0], perCollectionLimit, nil, req.MinScore)
	if err != nil {
		return ReflectResponse{}, err
	}
	searchMillis := time.Since(searchStart).Milliseconds()

	useDecay := s.decay.Resolve(req.UseDecay)
	now := s.clock.Now()
	for i := range points {
		if useDecay {
			ts := parseTimestamp(stringField(points[i].Payload, "timestamp"))
			points[i].Score = Apply(points[i].Score, ts, now, s.decay)
		}
	}
	sortByScoreDesc(points)
	if len(points) > limit {
		points = points[:limit]
	}

	results := make([]ReflectResult, 0, len(points))
	for _, p := range points {
		excerpt := stringField(p.Payload, "text")
		if req.Brief && len(excerpt) > 200 {
			excerpt = excerpt[:200] + "..."
		}
		r := ReflectResult{
			Score:          p.Score,
			Timestamp:      stringField(p.Payload, "timestamp"),
			Project:        stringField(p.Payload, "project"),
			Role:           stringField(p.Payload, "start_role"),
			Excerpt:        excerpt,
			ConversationID: stringField(p.Payload, "conversation_id"),
		}
		if req.IncludeRaw {
			r.Raw = p.Payload
		}
		results = append(results, r)
	}

	resp := ReflectResponse{
		Query:         req.Query,
		Results:       results,
		EmbedProvider: s.embedder.Name(),
		DecayUsed:     useDecay,
		Collections:   collections,
		EmbedMillis:   embedMillis,
		SearchMillis:  searchMillis,
	}
	resp.Formatted = Format(resp, req.ResponseFormat, req.IncludeRaw)

	s.metrics.IncCounter("reflect_queries", map[string]string{"provider": s.embedder.Name()})
	s.metrics.ObserveHistogram("reflect_search_millis", float64(searchMillis), nil)
	s.log.Debug("reflect_on_past", map[string]any{
		"collections": len(collections),
		"results":     len(results),
		"embed_ms":    embedMillis,
		"search_ms":   searchMillis,
	})
	return resp, nil
}

// resolveCollections picks the candidate set: project=="all" selects
// every collection under the active provider's suffix; a named project
// selects its derived collection; otherwise the project is resolved from
// the caller's working directory. The reflections collection is always
// appended regardless of its entries' project tags, so notes written in
// one project remain reachable from any other.
func (s *Service) resolveCollections(ctx context.Context, reqProject, workingDir string) ([]string, error) {
	suffix := embedding.ProviderSuffix(s.embedder.Name())
	var collections []string
	switch {
	case reqProject == "all":
		all, err := s.store.ListCollections(ctx, suffix)
		if err == nil {
			collections = append(collections, all...)
		}
	case reqProject != "":
		collections = append(collections, project.CollectionID(reqProject, suffix))
	default:
		if workingDir == "" {
			return nil, fmt.Errorf("%w: working_dir required to resolve current project", recallerr.ErrInvalidArgument)
		}
		id := project.Resolve(workingDir, s.logMountPrefix, suffix)
		collections = append(collections, id.CollectionID)
	}
	collections = append(collections, project.ReflectionsCollection)
	if len(collections) == 0 {
		return nil, recallerr.ErrNoCollections
	}
	return collections, nil
}

// StoreReflectionRequest is store_reflection's argument set.
type StoreReflectionRequest struct {
	Content    string
	Tags       []string
	WorkingDir string
}

// StoreReflectionResponse confirms the write with the assigned point id.
type StoreReflectionResponse struct {
	PointID string
}

// StoreReflection embeds content and upserts it into the well-known
// reflections collection, tagged with the caller's resolved project.
func (s *Service) StoreReflection(ctx context.Context, req StoreReflectionRequest) (StoreReflectionResponse, error) {
	if req.Content == "" {
		return StoreReflectionResponse{}, fmt.Errorf("%w: content is required", recallerr.ErrInvalidArgument)
	}
	vecs, err := s.embedder.EmbedBatch(ctx, []string{req.Content})
	if err != nil {
		return StoreReflectionResponse{}, fmt.Errorf("%w: %v", recallerr.ErrTransientIO, err)
	}
	resolvedProject := ""
	if req.WorkingDir != "" {
		resolvedProject = project.Resolve(req.WorkingDir, s.logMountPrefix, "").NormalizedName
	}
	pointID := fmt.Sprintf("reflection-%d", s.clock.Now().UnixNano())
	if err := s.store.EnsureCollection(ctx, project.ReflectionsCollection, s.embedder.Dimension()); err != nil {
		return StoreReflectionResponse{}, err
	}
	err = s.store.Upsert(ctx, project.ReflectionsCollection, []vectorstore.Point{{
		ID:     pointID,
		Vector: vecs[0],
		Payload: map[string]any{
			"content":   req.Content,
			"tags":      req.Tags,
			"project":   resolvedProject,
			"stored_at": s.clock.Now().Format(time.RFC3339),
			"text":      req.Content,
			"timestamp": s.clock.Now().Format(time.RFC3339),
			"start_role": "user",
		},
	}})
	if err != nil {
		return StoreReflectionResponse{}, err
	}
	s.metrics.IncCounter("reflections_stored", nil)
	return StoreReflectionResponse{PointID: pointID}, nil
}

func sortByScoreDesc(points []vectorstore.ScoredPoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Score > points[j].Score })
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Unix(0, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC()
	}
	return time.Unix(0, 0).UTC()
}
