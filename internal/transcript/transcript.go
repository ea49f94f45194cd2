// Package transcript is a streaming reader over an append-only
// line-delimited JSON conversation log, yielding normalized messages and
// resumable byte offsets. The line scanner commits an offset per consumed
// line so the ingestion engine can resume a partially processed file
// without re-reading it from the start.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ramccor/recall/internal/recallerr"
)

// maxScanTokenSize bumps bufio.Scanner's line buffer above its 64KiB
// default; conversation records containing large tool outputs can exceed
// that comfortably.
const maxScanTokenSize = 8 * 1024 * 1024

// Message is the normalized projection of one transcript record.
type Message struct {
	ID             string
	Role           string
	Text           string
	Timestamp      string
	ToolOutputs    []string
	FilesMentioned []string
	ToolNames      []string
}

// Record mirrors the subset of the host's JSON schema this parser cares
// about; unknown fields are ignored.
type record struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`

	// tool_use fields
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// tool_result fields
	Content json.RawMessage `json:"content"`
	Output  string          `json:"output"`
}

// Result is one message-yielding line: the Message and the byte offset of
// the start of the next line. Lines that yield no message (blank,
// malformed, summary or content-free records) are consumed by Next without
// producing a Result.
type Result struct {
	Message    *Message
	NextOffset int64
}

// Parser streams Results from a single scan of a transcript file starting
// at resumeFrom. It is not restartable mid-iteration: callers obtain a
// fresh Parser per scan.
type Parser struct {
	f            *os.File
	scanner      *bufio.Scanner
	offset       int64
	maxToolOut   int
	maxToolChars int
}

// Open seeks to resumeFrom and prepares a line scanner. Returns
// recallerr.ErrFileGone if the file no longer exists and
// recallerr.ErrFileTruncated if resumeFrom exceeds the current file size
// (caller should reset to 0 and re-open).
func Open(path string, resumeFrom int64, maxToolOutputs, maxToolOutputChars int) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, recallerr.ErrFileGone
		}
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("transcript: stat %s: %w", path, err)
	}
	if resumeFrom > info.Size() {
		f.Close()
		return nil, recallerr.ErrFileTruncated
	}
	if _, err := f.Seek(resumeFrom, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("transcript: seek %s: %w", path, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	if maxToolOutputs <= 0 {
		maxToolOutputs = 15
	}
	if maxToolOutputChars <= 0 {
		maxToolOutputChars = 500
	}
	return &Parser{f: f, scanner: sc, offset: resumeFrom, maxToolOut: maxToolOutputs, maxToolChars: maxToolOutputChars}, nil
}

// Close releases the underlying file handle.
func (p *Parser) Close() error { return p.f.Close() }

// Next reads and parses the next line. Returns io.EOF when the scan begun
// at Open time reaches end of file; the caller re-invokes Open with the new
// offset on the next scan cycle if the file has grown since.
func (p *Parser) Next() (Result, error) {
	for {
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return Result{}, fmt.Errorf("transcript: scan: %w", err)
			}
			return Result{}, io.EOF
		}
		line := p.scanner.Bytes()
		// +1 for the newline the scanner strips.
		next := p.offset + int64(len(line)) + 1
		p.offset = next

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			// Malformed line: skip it, keep the advanced offset, never
			// abort the whole file.
			continue
		}
		msg, ok := toMessage(rec, p.maxToolOut, p.maxToolChars)
		if !ok {
			continue
		}
		return Result{Message: msg, NextOffset: next}, nil
	}
}

func toMessage(rec record, maxToolOutputs, maxToolOutputChars int) (*Message, bool) {
	if rec.Type == "summary" {
		return nil, false
	}
	if len(rec.Message.Content) == 0 {
		return nil, false
	}

	msg := &Message{ID: rec.ID, Role: rec.Type, Timestamp: rec.Timestamp}

	var asString string
	if err := json.Unmarshal(rec.Message.Content, &asString); err == nil {
		msg.Text = asString
		return msg, true
	}

	var parts []contentPart
	if err := json.Unmarshal(rec.Message.Content, &parts); err != nil {
		return nil, false
	}

	var textBuilder strings.Builder
	for _, part := range parts {
		switch part.Type {
		case "text":
			textBuilder.WriteString(part.Text)
		case "tool_use":
			msg.ToolNames = append(msg.ToolNames, part.Name)
			msg.FilesMentioned = append(msg.FilesMentioned, extractFileArgs(part.Input)...)
		case "tool_result":
			out := resultText(part)
			if out == "" {
				continue
			}
			if len(msg.ToolOutputs) < maxToolOutputs {
				if len(out) > maxToolOutputChars {
					out = out[:maxToolOutputChars]
				}
				msg.ToolOutputs = append(msg.ToolOutputs, out)
			}
			msg.FilesMentioned = append(msg.FilesMentioned, filesFromGitOutput(out)...)
		}
	}
	msg.Text = textBuilder.String()
	// An assistant turn that is purely a tool invocation (no text, result
	// delivered in a later message) still carries tool-name and file-path
	// metadata; only a record that produced nothing at all yields no
	// Message.
	if msg.Text == "" && len(msg.ToolOutputs) == 0 && len(msg.ToolNames) == 0 {
		return nil, false
	}
	return msg, true
}

func resultText(part contentPart) string {
	if part.Output != "" {
		return part.Output
	}
	if len(part.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(part.Content, &s); err == nil {
		return s
	}
	return string(part.Content)
}

// fileArgKeys are the tool-input JSON keys that conventionally carry an
// explicit file path argument.
var fileArgKeys = []string{"file_path", "path", "filename", "notebook_path"}

func extractFileArgs(input json.RawMessage) []string {
	if len(input) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(input, &m); err != nil {
		return nil
	}
	var out []string
	for _, key := range fileArgKeys {
		raw, ok := m[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			out = append(out, s)
		}
	}
	return out
}

var gitChangedFileRe = regexp.MustCompile(`(?m)^(?:diff --git a/(\S+)|(?:[AMD?]{1,2})\s+(\S+))`)

// filesFromGitOutput extracts a file list from text that looks like the
// output of git diff / git show / git status.
func filesFromGitOutput(out string) []string {
	if !strings.Contains(out, "diff --git") && !gitStatusLike(out) {
		return nil
	}
	matches := gitChangedFileRe.FindAllStringSubmatch(out, -1)
	var files []string
	for _, m := range matches {
		if m[1] != "" {
			files = append(files, m[1])
		} else if m[2] != "" {
			files = append(files, m[2])
		}
	}
	return files
}

func gitStatusLike(out string) bool {
	lines := strings.Split(out, "\n")
	hits := 0
	for _, l := range lines {
		if len(l) > 2 && (l[0] == 'M' || l[0] == 'A' || l[0] == 'D' || l[0] == '?') && l[1] == ' ' {
			hits++
		}
	}
	return hits > 0
}
