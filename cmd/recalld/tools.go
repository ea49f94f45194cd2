package main

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ramccor/recall/internal/config"
	"github.com/ramccor/recall/internal/ingest"
	"github.com/ramccor/recall/internal/retrieve"
)

// Argument shapes for the four tool operations. Field names match the
// operation parameter names so the generated JSON schema presented to
// callers is self-describing.

type reflectOnPastArgs struct {
	Query          string  `json:"query" jsonschema:"the natural-language query to search past conversations for"`
	Limit          int     `json:"limit,omitempty" jsonschema:"maximum number of results to return, default 5"`
	MinScore       float64 `json:"min_score,omitempty" jsonschema:"minimum similarity score in [0,1], default 0"`
	Project        string  `json:"project,omitempty" jsonschema:"project name to scope the search to, or 'all'; omit to resolve from the caller's working directory"`
	WorkingDir     string  `json:"working_dir,omitempty" jsonschema:"the caller's current working directory, used to resolve the current project when project is omitted"`
	UseDecay       int     `json:"use_decay,omitempty" jsonschema:"-1 server default, 0 disable, 1 enable exponential recency decay re-ranking"`
	Brief          bool    `json:"brief,omitempty" jsonschema:"truncate excerpts to a short preview"`
	ResponseFormat string  `json:"response_format,omitempty" jsonschema:"'structured' or 'markdown', default structured"`
	IncludeRaw     bool    `json:"include_raw,omitempty" jsonschema:"include the raw stored payload alongside each result for debugging"`
}

type storeReflectionArgs struct {
	Content    string   `json:"content" jsonschema:"the reflection text to store"`
	Tags       []string `json:"tags,omitempty" jsonschema:"free-form tags to attach to the reflection"`
	WorkingDir string   `json:"working_dir,omitempty" jsonschema:"the caller's current working directory, used to tag the reflection with its originating project"`
}

type getFullConversationArgs struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation id (transcript file basename) to retrieve in full"`
	Project        string `json:"project,omitempty" jsonschema:"project name the conversation belongs to; not used for the lookup, which searches every configured log root for the conversation id"`
}

type statusArgs struct{}

func reflectOnPastHandler(svc *retrieve.Service) func(context.Context, *mcp.CallToolRequest, reflectOnPastArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args reflectOnPastArgs) (*mcp.CallToolResult, any, error) {
		resp, err := svc.ReflectOnPast(ctx, retrieve.ReflectRequest{
			Query:          args.Query,
			Limit:          args.Limit,
			MinScore:       float32(args.MinScore),
			Project:        args.Project,
			WorkingDir:     args.WorkingDir,
			UseDecay:       retrieve.UseDecay(args.UseDecay),
			Brief:          args.Brief,
			ResponseFormat: args.ResponseFormat,
			IncludeRaw:     args.IncludeRaw,
		})
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(resp.Formatted), resp, nil
	}
}

func storeReflectionHandler(svc *retrieve.Service) func(context.Context, *mcp.CallToolRequest, storeReflectionArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args storeReflectionArgs) (*mcp.CallToolResult, any, error) {
		resp, err := svc.StoreReflection(ctx, retrieve.StoreReflectionRequest{
			Content:    args.Content,
			Tags:       args.Tags,
			WorkingDir: args.WorkingDir,
		})
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult("stored reflection " + resp.PointID), resp, nil
	}
}

func getFullConversationHandler(svc *retrieve.Service, cfg *config.Config) func(context.Context, *mcp.CallToolRequest, getFullConversationArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args getFullConversationArgs) (*mcp.CallToolResult, any, error) {
		resp, err := svc.GetFullConversation(ctx, retrieve.ConversationRequest{
			ConversationID: args.ConversationID,
			LogRoots:       cfg.LogRoots,
		})
		if err != nil {
			return errResult(err), nil, nil
		}
		var text string
		for _, m := range resp.Messages {
			text += m.Role + ": " + m.Text + "\n\n"
		}
		return textResult(text), resp, nil
	}
}

func statusHandler(svc *retrieve.Service, engine *ingest.Engine) func(context.Context, *mcp.CallToolRequest, statusArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args statusArgs) (*mcp.CallToolResult, any, error) {
		resp, err := svc.Status(ctx, engine)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult("recall daemon status reported"), resp, nil
	}
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
