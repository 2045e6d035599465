package mailbox_tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/pocketdesk/mailgate/internal/gateway"
	"github.com/pocketdesk/mailgate/internal/mailbox"
)

// getUserFromArgs extracts the user id from request arguments, defaulting
// to "default" for single-user deployments.
func getUserFromArgs(args map[string]interface{}) string {
	user := "default"
	if userVal, ok := args["userId"].(string); ok && userVal != "" {
		user = userVal
	}
	return user
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case string:
		if v != "" {
			out = append(out, v)
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// RegisterMailboxTools registers all mailbox tools with the MCP server.
// Every handler except health runs through the resilient invoker; health
// fails fast so a degraded gateway is reported, not masked by retries.
func RegisterMailboxTools(s *mcpserver.MCPServer, gw *gateway.Gateway, invoker *gateway.Invoker) error {
	if err := registerReadTools(s, gw, invoker); err != nil {
		return fmt.Errorf("failed to register read tools: %w", err)
	}
	if err := registerWriteTools(s, gw, invoker); err != nil {
		return fmt.Errorf("failed to register write tools: %w", err)
	}

	accountTool := mcp.NewTool("mailbox_account",
		mcp.WithDescription("Verify the stored credential and return the connected mailbox address"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
	)
	s.AddTool(accountTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		var info gateway.AccountInfo
		err := invoker.Invoke(ctx, "account", func(ctx context.Context) error {
			res, err := gw.Account(ctx, getUserFromArgs(args))
			if err != nil {
				return err
			}
			info = res
			return nil
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to verify account: %v", err)), nil
		}
		return jsonResult(info)
	})

	healthTool := mcp.NewTool("mailbox_health",
		mcp.WithDescription("Report gateway health status"),
	)
	s.AddTool(healthTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(gw.Health(ctx))
	})

	return nil
}

func registerReadTools(s *mcpserver.MCPServer, gw *gateway.Gateway, invoker *gateway.Invoker) error {
	getMessagesTool := mcp.NewTool("mailbox_get_messages",
		mcp.WithDescription("List mailbox conversations matching a query, with messages decoded to readable text"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
		mcp.WithString("query",
			mcp.Description("Mailbox search query (e.g., 'in:inbox', 'from:user@example.com')"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description("Maximum number of conversations to return (default: 10)"),
		),
		mcp.WithString("pageToken",
			mcp.Description("Continuation cursor from a previous page"),
		),
	)
	s.AddTool(getMessagesTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		user := getUserFromArgs(args)
		query, _ := args["query"].(string)
		pageToken, _ := args["pageToken"].(string)

		maxResults := int64(10)
		if v, ok := args["maxResults"].(float64); ok {
			maxResults = int64(v)
		}

		var result gateway.BatchResult[interface{}]
		err := invoker.Invoke(ctx, "getMessages", func(ctx context.Context) error {
			batch, err := gw.GetMessages(ctx, user, query, maxResults, pageToken)
			if err != nil {
				return err
			}
			result = remap(batch)
			return nil
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get messages: %v", err)), nil
		}
		return jsonResult(result)
	})

	searchTool := mcp.NewTool("mailbox_search_messages",
		mcp.WithDescription("Search individual mailbox messages matching a query"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Mailbox search query"),
		),
	)
	s.AddTool(searchTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		user := getUserFromArgs(args)
		query, ok := args["query"].(string)
		if !ok || query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		var result gateway.BatchResult[interface{}]
		err := invoker.Invoke(ctx, "searchMessages", func(ctx context.Context) error {
			batch, err := gw.SearchMessages(ctx, user, query)
			if err != nil {
				return err
			}
			result = remap(batch)
			return nil
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to search messages: %v", err)), nil
		}
		return jsonResult(result)
	})

	downloadTool := mcp.NewTool("mailbox_download_attachment",
		mcp.WithDescription("Download an attachment to storage and return a time-limited URL"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
		mcp.WithString("messageId",
			mcp.Required(),
			mcp.Description("The ID of the message carrying the attachment"),
		),
		mcp.WithString("attachmentId",
			mcp.Required(),
			mcp.Description("The provider attachment ID from the message's attachment list"),
		),
	)
	s.AddTool(downloadTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		user := getUserFromArgs(args)
		messageID, ok := args["messageId"].(string)
		if !ok || messageID == "" {
			return mcp.NewToolResultError("messageId is required"), nil
		}
		attachmentID, ok := args["attachmentId"].(string)
		if !ok || attachmentID == "" {
			return mcp.NewToolResultError("attachmentId is required"), nil
		}

		var result gateway.DownloadResult
		err := invoker.Invoke(ctx, "downloadAttachment", func(ctx context.Context) error {
			res, err := gw.DownloadAttachment(ctx, user, messageID, attachmentID)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to download attachment: %v", err)), nil
		}
		return jsonResult(result)
	})

	return nil
}

func registerWriteTools(s *mcpserver.MCPServer, gw *gateway.Gateway, invoker *gateway.Invoker) error {
	sendTool := mcp.NewTool("mailbox_send_message",
		mcp.WithDescription("Compose and send a new message"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient address (string) or array of addresses"),
		),
		mcp.WithString("cc",
			mcp.Description("Cc address (string) or array of addresses"),
		),
		mcp.WithString("bcc",
			mcp.Description("Bcc address (string) or array of addresses"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Message subject"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("HTML message body"),
		),
		mcp.WithString("threadId",
			mcp.Description("Existing conversation to attach the message to"),
		),
		mcp.WithArray("attachments",
			mcp.Description("Array of {filename, mimeType, data} objects, data base64-encoded"),
		),
	)
	s.AddTool(sendTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		req, errMsg := sendRequestFromArgs(args)
		if errMsg != "" {
			return mcp.NewToolResultError(errMsg), nil
		}
		req.ThreadID, _ = args["threadId"].(string)

		var result gateway.SendResult
		err := invoker.Invoke(ctx, "sendMessage", func(ctx context.Context) error {
			res, err := gw.SendMessage(ctx, getUserFromArgs(args), req)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
		}
		return jsonResult(result)
	})

	replyTool := mcp.NewTool("mailbox_reply_thread",
		mcp.WithDescription("Send a reply onto an existing conversation, preserving threading headers"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
		mcp.WithString("threadId",
			mcp.Required(),
			mcp.Description("The ID of the conversation to reply to"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient address (string) or array of addresses"),
		),
		mcp.WithString("cc",
			mcp.Description("Cc address (string) or array of addresses"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Reply subject; leading Re:/Fwd: prefixes are normalized away"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("HTML message body"),
		),
		mcp.WithArray("attachments",
			mcp.Description("Array of {filename, mimeType, data} objects, data base64-encoded"),
		),
	)
	s.AddTool(replyTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		threadID, ok := args["threadId"].(string)
		if !ok || threadID == "" {
			return mcp.NewToolResultError("threadId is required"), nil
		}
		req, errMsg := sendRequestFromArgs(args)
		if errMsg != "" {
			return mcp.NewToolResultError(errMsg), nil
		}

		var result gateway.SendResult
		err := invoker.Invoke(ctx, "replyToThread", func(ctx context.Context) error {
			res, err := gw.ReplyToThread(ctx, getUserFromArgs(args), threadID, req)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to reply to thread: %v", err)), nil
		}
		return jsonResult(result)
	})

	registerMarkTool(s, invoker, "mailbox_mark_read", "Mark a message or thread as read", gw.MarkAsRead)
	registerMarkTool(s, invoker, "mailbox_mark_unread", "Mark a message or thread as unread", gw.MarkAsUnread)

	deleteMessageTool := mcp.NewTool("mailbox_delete_message",
		mcp.WithDescription("Permanently delete a message"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
		mcp.WithString("messageId",
			mcp.Required(),
			mcp.Description("The ID of the message to delete"),
		),
	)
	s.AddTool(deleteMessageTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		messageID, ok := args["messageId"].(string)
		if !ok || messageID == "" {
			return mcp.NewToolResultError("messageId is required"), nil
		}
		err := invoker.Invoke(ctx, "deleteMessage", func(ctx context.Context) error {
			return gw.DeleteMessage(ctx, getUserFromArgs(args), messageID)
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to delete message: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Message %s deleted", messageID)), nil
	})

	deleteThreadTool := mcp.NewTool("mailbox_delete_thread",
		mcp.WithDescription("Permanently delete a thread and all its messages"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
		mcp.WithString("threadId",
			mcp.Required(),
			mcp.Description("The ID of the thread to delete"),
		),
	)
	s.AddTool(deleteThreadTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		threadID, ok := args["threadId"].(string)
		if !ok || threadID == "" {
			return mcp.NewToolResultError("threadId is required"), nil
		}
		err := invoker.Invoke(ctx, "deleteThread", func(ctx context.Context) error {
			return gw.DeleteThread(ctx, getUserFromArgs(args), threadID)
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to delete thread: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Thread %s deleted", threadID)), nil
	})

	return nil
}

// registerMarkTool wires one read-state tool; read and unread share the
// same argument shape.
func registerMarkTool(s *mcpserver.MCPServer, invoker *gateway.Invoker, name, description string, fn func(ctx context.Context, userID, messageID, threadID string) error) {
	tool := mcp.NewTool(name,
		mcp.WithDescription(description+" (provide exactly one of messageId, threadId)"),
		mcp.WithString("userId",
			mcp.Description("User identifier (default: 'default')"),
		),
		mcp.WithString("messageId",
			mcp.Description("The ID of a single message"),
		),
		mcp.WithString("threadId",
			mcp.Description("The ID of a whole thread"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		messageID, _ := args["messageId"].(string)
		threadID, _ := args["threadId"].(string)
		if (messageID == "") == (threadID == "") {
			return mcp.NewToolResultError("exactly one of messageId and threadId is required"), nil
		}
		err := invoker.Invoke(ctx, name, func(ctx context.Context) error {
			return fn(ctx, getUserFromArgs(args), messageID, threadID)
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to update read state: %v", err)), nil
		}
		return mcp.NewToolResultText("Read state updated"), nil
	})
}

// sendRequestFromArgs builds a send request from tool arguments. Returns
// a non-empty message on validation failure.
func sendRequestFromArgs(args map[string]interface{}) (gateway.SendRequest, string) {
	to := stringSliceArg(args, "to")
	if len(to) == 0 {
		return gateway.SendRequest{}, "to is required"
	}
	subject, _ := args["subject"].(string)
	if subject == "" {
		return gateway.SendRequest{}, "subject is required"
	}
	content, _ := args["content"].(string)
	if content == "" {
		return gateway.SendRequest{}, "content is required"
	}
	attachments, errMsg := attachmentsFromArgs(args)
	if errMsg != "" {
		return gateway.SendRequest{}, errMsg
	}
	return gateway.SendRequest{
		To:          to,
		Cc:          stringSliceArg(args, "cc"),
		Bcc:         stringSliceArg(args, "bcc"),
		Subject:     subject,
		Content:     content,
		Attachments: attachments,
	}, ""
}

// attachmentsFromArgs parses the optional attachments argument: an array
// of {filename, mimeType, data} objects with base64-encoded data. A
// present but malformed value is an error, never a silent drop: the
// caller asked for attachments and the message must not go out without
// them.
func attachmentsFromArgs(args map[string]interface{}) ([]mailbox.OutboundAttachment, string) {
	raw, present := args["attachments"]
	if !present || raw == nil {
		return nil, ""
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, "attachments must be an array of {filename, mimeType, data} objects"
	}

	var out []mailbox.OutboundAttachment
	for i, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Sprintf("attachment %d must be an object", i)
		}
		filename, _ := obj["filename"].(string)
		if filename == "" {
			return nil, fmt.Sprintf("attachment %d is missing filename", i)
		}
		encoded, _ := obj["data"].(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Sprintf("attachment %d data is not valid base64", i)
		}
		mimeType, _ := obj["mimeType"].(string)
		out = append(out, mailbox.OutboundAttachment{
			Filename: filename,
			MimeType: mimeType,
			Data:     data,
		})
	}
	return out, ""
}

// remap widens a typed batch result so handlers share one result shape.
func remap[T any](batch gateway.BatchResult[T]) gateway.BatchResult[interface{}] {
	out := gateway.BatchResult[interface{}]{
		Errors:         batch.Errors,
		PartialSuccess: batch.PartialSuccess,
		NextPageToken:  batch.NextPageToken,
		AllLoaded:      batch.AllLoaded,
	}
	for _, item := range batch.Items {
		out.Items = append(out.Items, item)
	}
	return out
}
