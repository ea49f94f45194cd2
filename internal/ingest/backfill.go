package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ramccor/recall/internal/chunk"
	"github.com/ramccor/recall/internal/obslog"
	"github.com/ramccor/recall/internal/transcript"
	"github.com/ramccor/recall/internal/vectorstore"
)

// BackfillState tracks the back-fill job's own resumable position,
// separate from the main ingest state file.
type BackfillState struct {
	Path      string `json:"-"`
	LastPath  string `json:"last_path"`
	LastChunk int    `json:"last_chunk_index"`
}

// LoadBackfillState reads the job's position file, defaulting to empty.
func LoadBackfillState(path string) (*BackfillState, error) {
	s := &BackfillState{Path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("ingest: parse backfill state: %w", err)
	}
	return s, nil
}

func (s *BackfillState) Save() error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, b, 0o644)
}

// Backfill is a separate, idempotent pass that re-extracts metadata from
// an already-processed transcript and re-applies it via SetPayload,
// without re-embedding and without touching any vector. It exists for
// upgrading points stored under an older metadata schema.
type Backfill struct {
	store  vectorstore.Store
	limits chunk.Limits
	log    obslog.Logger
}

func NewBackfill(store vectorstore.Store, limits chunk.Limits, log obslog.Logger) *Backfill {
	if log == nil {
		log = obslog.NewZerologLogger("info")
	}
	return &Backfill{store: store, limits: limits, log: log}
}

// Run re-parses path, re-chunks it identically to the original ingest,
// and calls SetPayload for every chunk whose id it can recompute, skipping
// anything already covered by state (tracked by chunk_index, resuming
// from state.LastChunk+1 for this file).
func (b *Backfill) Run(ctx context.Context, path, collection, conversationID, projectName string, state *BackfillState) error {
	parser, err := transcript.Open(path, 0, 0, 0)
	if err != nil {
		return err
	}
	defer parser.Close()

	if state.LastPath != path {
		// New file for this job run; the chunk cursor belongs to the
		// previous one.
		state.LastPath = path
		state.LastChunk = -1
	}

	c := chunk.New(conversationID, projectName, b.limits, nil, 0)
	for {
		res, err := parser.Next()
		if err != nil {
			break
		}
		if res.Message == nil {
			continue
		}
		for _, ch := range c.Add(*res.Message) {
			if err := b.applyIfNewer(ctx, collection, ch, state); err != nil {
				return err
			}
		}
	}
	for _, ch := range c.Finish() {
		if err := b.applyIfNewer(ctx, collection, ch, state); err != nil {
			return err
		}
	}
	return state.Save()
}

func (b *Backfill) applyIfNewer(ctx context.Context, collection string, c chunk.Chunk, state *BackfillState) error {
	if c.ChunkIndex <= state.LastChunk {
		return nil
	}
	fields := map[string]any{
		"files_analyzed":   c.FilesAnalyzed,
		"files_edited":     c.FilesEdited,
		"tools_used":       c.ToolsUsed,
		"concepts":         c.Concepts,
		"git_file_changes": c.GitFileChanges,
		"metadata_version": c.MetadataVersion,
	}
	if err := b.store.SetPayload(ctx, collection, c.ChunkID, fields); err != nil {
		return err
	}
	state.LastChunk = c.ChunkIndex
	return nil
}
