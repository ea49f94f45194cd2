package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ramccor/recall/internal/recallerr"
	"github.com/ramccor/recall/internal/transcript"
)

var errFound = errors.New("retrieve: transcript found")

// ConversationRequest is get_full_conversation's argument set.
// The file is looked up under one of the configured log roots by
// conversation id (its filename stem); path components are rejected to
// prevent escaping the log roots.
type ConversationRequest struct {
	ConversationID string
	LogRoots       []string
}

// ConversationMessage is one message in full-transcript order.
type ConversationMessage struct {
	Role      string
	Text      string
	Timestamp string
}

// ConversationResponse is get_full_conversation's return value.
type ConversationResponse struct {
	ConversationID string
	Messages       []ConversationMessage
}

// GetFullConversation re-parses a transcript file in full (bypassing
// chunking) to return the complete, ordered message sequence for a single
// conversation id. It is the one read-path operation that touches the
// filesystem directly rather than the vector store, so the conversation id
// is validated against path traversal before any filepath.Join.
func (s *Service) GetFullConversation(ctx context.Context, req ConversationRequest) (ConversationResponse, error) {
	if req.ConversationID == "" {
		return ConversationResponse{}, fmt.Errorf("%w: conversation_id is required", recallerr.ErrInvalidArgument)
	}
	if strings.ContainsAny(req.ConversationID, "/\\") || strings.Contains(req.ConversationID, "..") {
		return ConversationResponse{}, fmt.Errorf("%w: conversation_id must not contain path separators", recallerr.ErrInvalidArgument)
	}

	path, err := findTranscriptFile(req.ConversationID, req.LogRoots)
	if err != nil {
		return ConversationResponse{}, err
	}

	parser, err := transcript.Open(path, 0, 0, 0)
	if err != nil {
		return ConversationResponse{}, err
	}
	defer parser.Close()

	var out []ConversationMessage
	for {
		select {
		case <-ctx.Done():
			return ConversationResponse{}, ctx.Err()
		default:
		}
		res, err := parser.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return ConversationResponse{}, err
		}
		if res.Message == nil {
			continue
		}
		out = append(out, ConversationMessage{
			Role:      res.Message.Role,
			Text:      res.Message.Text,
			Timestamp: res.Message.Timestamp,
		})
	}

	return ConversationResponse{ConversationID: req.ConversationID, Messages: out}, nil
}

// findTranscriptFile walks each configured root looking for
// <conversationID>.jsonl, refusing to resolve outside the root it matched
// under.
func findTranscriptFile(conversationID string, roots []string) (string, error) {
	name := conversationID + ".jsonl"
	for _, root := range roots {
		cleanRoot := filepath.Clean(root)
		candidate := filepath.Join(cleanRoot, name)
		if !strings.HasPrefix(candidate, cleanRoot+string(filepath.Separator)) && candidate != cleanRoot {
			continue
		}
		found, err := searchTree(cleanRoot, name)
		if err != nil {
			continue
		}
		if found != "" {
			return found, nil
		}
	}
	return "", recallerr.ErrNotFound
}

func searchTree(root, name string) (string, error) {
	var result string
	err := filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Base(p) == name {
			result = p
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", err
	}
	return result, nil
}
