// Package chunk groups consecutive transcript messages into token- and
// character-bounded chunks with a bounded overlap, folding per-message
// metadata (files touched, tools used, concepts) into each chunk. Windows
// are whole-message: a chunk never splits a message in the middle.
package chunk

import (
	"strings"

	"github.com/google/uuid"
	"github.com/ramccor/recall/internal/transcript"
)

// Limits bundles the chunker's configurable size and overlap limits.
type Limits struct {
	TokenLimit    int
	CharLimit     int
	OverlapTokens int
	OverlapChars  int
	TokenRatio    int
}

// Chunk is the unit of embedding: a contiguous span of complete messages
// plus the metadata folded out of them.
type Chunk struct {
	ChunkID        string
	ConversationID string
	Project        string
	Text           string
	StartRole      string
	Timestamp      string
	ChunkIndex     int
	TotalChunks    int

	FilesAnalyzed   []string
	FilesEdited     []string
	ToolsUsed       []string
	Concepts        []string
	ToolOutputs     []string
	GitFileChanges  []string
	MetadataVersion int

	Truncated bool
}

// chunkIDNamespace is the fixed UUID namespace chunk ids are derived
// under: the same (conversation_id, chunk_index) pair always maps to the
// same id, which is what makes re-ingest after a crash idempotent.
var chunkIDNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("recall.chunk"))

func chunkID(conversationID string, index int) string {
	name := conversationID + "#" + itoa(index)
	return uuid.NewSHA1(chunkIDNamespace, []byte(name)).String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// editTools and analysisTools classify which tool names count as edits
// versus analyses when folding files_mentioned into files_edited /
// files_analyzed.
var editTools = map[string]bool{"edit": true, "write": true, "multiedit": true, "notebookedit": true}
var analysisTools = map[string]bool{"read": true, "grep": true, "glob": true, "ls": true}

// DefaultConcepts is the keyword → concept tag map used when the caller
// supplies none.
var DefaultConcepts = map[string]string{
	"docker":     "docker",
	"kubernetes": "kubernetes",
	"security":   "security",
	"auth":       "auth",
	"test":       "testing",
	"migration":  "migration",
	"performance": "performance",
	"cache":      "caching",
}

// pending accumulates messages and their running token/char counts between
// emissions, forming the overlap buffer.
type pending struct {
	messages []transcript.Message
	tokens   int
	chars    int
}

func (p *pending) add(m transcript.Message, limits Limits) {
	p.messages = append(p.messages, m)
	p.tokens += EstimateTokens(m.Text, limits.TokenRatio)
	p.chars += len(m.Text)
}

func (p *pending) reset() {
	p.messages = nil
	p.tokens = 0
	p.chars = 0
}

// Chunker streams chunks from a sequence of messages, emitting as soon as
// limits are reached and retaining an overlap tail for the next chunk.
type Chunker struct {
	limits         Limits
	concepts       map[string]string
	conversationID string
	project        string

	buf       pending
	emitted   []Chunk
	nextIndex int
}

// New constructs a Chunker for one conversation/project pair. conceptMap
// may be nil to use DefaultConcepts. startIndex resumes chunk_index
// numbering across scans of the same append-only file, keeping the
// dense-from-0 invariant across process restarts.
func New(conversationID, project string, limits Limits, conceptMap map[string]string, startIndex int) *Chunker {
	if conceptMap == nil {
		conceptMap = DefaultConcepts
	}
	return &Chunker{
		limits:         limits,
		concepts:       conceptMap,
		conversationID: conversationID,
		project:        project,
		nextIndex:      startIndex,
	}
}

// FinalizeScan stamps TotalChunks on every chunk emitted during this scan
// with the running total known as of this pass (startIndex + count this
// scan). Because the source file is append-only and may grow further, this
// is a running total, not a final one: a later scan may emit chunks with
// a higher chunk_index while already-stored chunks keep their original
// payload. The field is advisory; chunk_index is the authoritative
// ordering.
func (c *Chunker) FinalizeScan() []Chunk {
	for i := range c.emitted {
		c.emitted[i].TotalChunks = c.nextIndex
	}
	return c.emitted
}

// Count returns the number of chunks emitted during this scan.
func (c *Chunker) Count() int { return len(c.emitted) }

// Add feeds one message into the chunker, possibly emitting one or more
// completed chunks (a single oversized message first flushes any pending
// buffer, then emits as its own truncated chunk without entering the
// buffer). Limits are checked against the chunk text as build renders it,
// role markers and separators included.
func (c *Chunker) Add(m transcript.Message) []Chunk {
	var out []Chunk

	fits := func(msgs []transcript.Message) bool {
		parts := make([]string, len(msgs))
		for i, x := range msgs {
			parts[i] = x.Role + ": " + x.Text
		}
		text := strings.Join(parts, "\n")
		return len(text) <= c.limits.CharLimit && EstimateTokens(text, c.limits.TokenRatio) <= c.limits.TokenLimit
	}

	if !fits([]transcript.Message{m}) {
		// A single message over either limit: flush the pending buffer
		// first, then emit the message as its own truncated chunk.
		if len(c.buf.messages) > 0 {
			out = append(out, c.flush()...)
		}
		out = append(out, c.emitOversized(m))
		return out
	}

	n := len(c.buf.messages)
	if n > 0 && !fits(append(c.buf.messages[:n:n], m)) {
		out = append(out, c.flush()...)
	}
	c.buf.add(m, c.limits)
	return out
}

// Finish emits any non-empty remainder as a final chunk. Call exactly
// once after the last message; skipping it leaves the tail of an
// in-progress conversation unsearchable.
func (c *Chunker) Finish() []Chunk {
	if len(c.buf.messages) == 0 {
		return nil
	}
	return c.flush()
}

func (c *Chunker) flush() []Chunk {
	ch := c.build(c.buf.messages, false)
	c.emitted = append(c.emitted, ch)
	c.nextIndex++
	c.retainOverlap()
	return []Chunk{ch}
}

func (c *Chunker) emitOversized(m transcript.Message) Chunk {
	ch := c.build([]transcript.Message{m}, true)
	c.emitted = append(c.emitted, ch)
	c.nextIndex++
	return ch
}

// retainOverlap keeps the tail of the just-flushed buffer worth
// OverlapTokens/OverlapChars as the next chunk's prefix.
func (c *Chunker) retainOverlap() {
	msgs := c.buf.messages
	var tail []transcript.Message
	tokens, chars := 0, 0
	for i := len(msgs) - 1; i >= 0; i-- {
		t := EstimateTokens(msgs[i].Text, c.limits.TokenRatio)
		ch := len(msgs[i].Text)
		if tokens+t > c.limits.OverlapTokens || chars+ch > c.limits.OverlapChars {
			break
		}
		tail = append([]transcript.Message{msgs[i]}, tail...)
		tokens += t
		chars += ch
	}
	c.buf.reset()
	for _, m := range tail {
		c.buf.add(m, c.limits)
	}
}

func (c *Chunker) build(msgs []transcript.Message, truncated bool) Chunk {
	var textParts []string
	var filesAnalyzed, filesEdited, toolsUsed, toolOutputs, gitChanges []string
	conceptSet := map[string]bool{}

	for _, m := range msgs {
		textParts = append(textParts, m.Role+": "+m.Text)
		toolOutputs = append(toolOutputs, m.ToolOutputs...)
		gitChanges = append(gitChanges, filterGitLike(m.ToolOutputs)...)

		for _, tool := range m.ToolNames {
			toolsUsed = appendUnique(toolsUsed, tool)
			lower := strings.ToLower(tool)
			if editTools[lower] {
				filesEdited = appendAllUnique(filesEdited, m.FilesMentioned)
			} else if analysisTools[lower] {
				filesAnalyzed = appendAllUnique(filesAnalyzed, m.FilesMentioned)
			} else {
				filesAnalyzed = appendAllUnique(filesAnalyzed, m.FilesMentioned)
			}
		}
		if len(m.ToolNames) == 0 {
			filesAnalyzed = appendAllUnique(filesAnalyzed, m.FilesMentioned)
		}

		lowerText := strings.ToLower(m.Text)
		for kw, tag := range c.concepts {
			if strings.Contains(lowerText, kw) {
				conceptSet[tag] = true
			}
		}
	}

	var concepts []string
	for tag := range conceptSet {
		concepts = append(concepts, tag)
	}

	return Chunk{
		ChunkID:         chunkID(c.conversationID, c.nextIndex),
		ConversationID:  c.conversationID,
		Project:         c.project,
		Text:            strings.Join(textParts, "\n"),
		StartRole:       msgs[0].Role,
		Timestamp:       msgs[0].Timestamp,
		ChunkIndex:      c.nextIndex,
		FilesAnalyzed:   filesAnalyzed,
		FilesEdited:     filesEdited,
		ToolsUsed:       toolsUsed,
		Concepts:        concepts,
		ToolOutputs:     toolOutputs,
		GitFileChanges:  gitChanges,
		MetadataVersion: 2,
		Truncated:       truncated,
	}
}

func filterGitLike(outputs []string) []string {
	var out []string
	for _, o := range outputs {
		if strings.Contains(o, "diff --git") || strings.Contains(o, "git status") {
			out = append(out, o)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func appendAllUnique(list []string, vs []string) []string {
	for _, v := range vs {
		list = appendUnique(list, v)
	}
	return list
}
