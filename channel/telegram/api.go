package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	maxMessageLength = 4096
	apiBaseURL       = "https://api.telegram.org/bot"
)

// apiError is a non-ok Bot API response.
type apiError struct {
	Code        int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

// callAPI posts JSON to a Bot API method and decodes the result envelope.
func (c *Channel) callAPI(ctx context.Context, method string, reqBody any, result any) error {
	url := apiBaseURL + c.token + "/" + method

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description,omitempty"`
		ErrorCode   int             `json:"error_code,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("telegram: decode response: %w", err)
	}
	if !envelope.OK {
		return &apiError{Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode result: %w", err)
		}
	}
	return nil
}

func (c *Channel) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         30,
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.callAPI(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Send delivers text as HTML-formatted messages, splitting at the 4096-char
// limit. Returns the id of the last message sent.
func (c *Channel) Send(ctx context.Context, chatID, text string) (string, error) {
	var lastID string
	for _, chunk := range splitMessage(text) {
		body := map[string]any{
			"chat_id":    chatID,
			"text":       MarkdownToHTML(chunk),
			"parse_mode": "HTML",
		}
		var msg Message
		if err := c.callAPI(ctx, "sendMessage", body, &msg); err != nil {
			// HTML can be rejected on pathological input; retry plain.
			body["text"] = chunk
			delete(body, "parse_mode")
			if err := c.callAPI(ctx, "sendMessage", body, &msg); err != nil {
				return "", err
			}
		}
		lastID = strconv.FormatInt(msg.MessageID, 10)
	}
	return lastID, nil
}

// sendPlain sends unformatted text without splitting; used for streaming
// previews that are later edited.
func (c *Channel) sendPlain(ctx context.Context, chatID, text string) (string, error) {
	var msg Message
	if err := c.callAPI(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, &msg); err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}

// sendWithKeyboard sends plain text with an inline keyboard attached.
func (c *Channel) sendWithKeyboard(ctx context.Context, chatID, text string, kb InlineKeyboard) (string, error) {
	body := map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": kb,
	}
	var msg Message
	if err := c.callAPI(ctx, "sendMessage", body, &msg); err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}

// Edit replaces a message's text with plain text. "message is not modified"
// responses are ignored.
func (c *Channel) Edit(ctx context.Context, chatID, msgID, text string) error {
	id, err := strconv.ParseInt(msgID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid message ID %q: %w", msgID, err)
	}
	body := map[string]any{
		"chat_id":    chatID,
		"message_id": id,
		"text":       text,
	}
	err = c.callAPI(ctx, "editMessageText", body, nil)
	if err != nil && isNotModified(err) {
		return nil
	}
	return err
}

// EditFormatted replaces a message's text with rendered HTML, falling back
// to plain text when Telegram rejects the markup.
func (c *Channel) EditFormatted(ctx context.Context, chatID, msgID, text string) error {
	id, err := strconv.ParseInt(msgID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid message ID %q: %w", msgID, err)
	}
	body := map[string]any{
		"chat_id":    chatID,
		"message_id": id,
		"text":       MarkdownToHTML(text),
		"parse_mode": "HTML",
	}
	err = c.callAPI(ctx, "editMessageText", body, nil)
	if err == nil || isNotModified(err) {
		return nil
	}
	return c.Edit(ctx, chatID, msgID, text)
}

// SendTyping shows the typing indicator.
func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	return c.callAPI(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

func (c *Channel) answerCallback(ctx context.Context, callbackID, text string) error {
	return c.callAPI(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

// downloadFile fetches file bytes via getFile plus the file endpoint.
func (c *Channel) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var file File
	if err := c.callAPI(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram: empty file_path for file_id %s", fileID)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("telegram: download file HTTP %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// splitMessage splits text into chunks within the message length limit,
// preferring newline boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > maxMessageLength {
		window := remaining[:maxMessageLength]
		pos := strings.LastIndex(window, "\n")
		if pos == -1 {
			pos = maxMessageLength
		} else {
			pos++
		}
		chunks = append(chunks, remaining[:pos])
		remaining = remaining[pos:]
	}
	if len(remaining) > 0 {
		chunks = append(chunks, remaining)
	}
	return chunks
}
