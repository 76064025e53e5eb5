package openvia

import "context"

// ReplyFunc sends one reply message back to the originating chat. It may be
// called multiple times per turn; channels split overly long replies.
type ReplyFunc func(ctx context.Context, text string) error

// MessageHandler processes one incoming user message. Input carries the
// message content; userID and chatID identify the sender and conversation.
type MessageHandler func(ctx context.Context, input []ContentBlock, userID, chatID string, reply ReplyFunc) error

// Channel is a chat surface the gateway serves. Start blocks delivering
// incoming messages to the handler until ctx is cancelled or Stop is called.
type Channel interface {
	ID() string
	Start(ctx context.Context, handler MessageHandler) error
	Stop() error
}

// PermissionNotifier is implemented by channels that can deliver approval
// prompts and report decisions back through the permission bridge.
type PermissionNotifier interface {
	HandlePermissionRequest(ctx context.Context, req PermissionRequest) error
}
