package feishu

import "encoding/json"

// tokenResponse is the tenant_access_token issuance response.
type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"` // seconds
}

// eventEnvelope is the outer callback payload. Schema 2.0 carries a header
// and event; URL verification uses the legacy flat fields.
type eventEnvelope struct {
	Challenge string       `json:"challenge,omitempty"`
	Type      string       `json:"type,omitempty"` // "url_verification"
	Schema    string       `json:"schema,omitempty"`
	Header    *eventHeader `json:"header,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type eventHeader struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Token     string `json:"token"`
}

// messageEvent is the im.message.receive_v1 event body.
type messageEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
			UserID string `json:"user_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		MessageType string `json:"message_type"` // "text", "image", ...
		Content     string `json:"content"`      // JSON-encoded by type
	} `json:"message"`
}

// cardAction is the card.action.trigger callback body.
type cardAction struct {
	Operator struct {
		OpenID string `json:"open_id"`
	} `json:"operator"`
	Action struct {
		Value actionValue `json:"value"`
	} `json:"action"`
}

// actionValue is the payload attached to approval card buttons.
type actionValue struct {
	PermissionID string `json:"permission_id"`
	Decision     string `json:"decision"` // "allow" or "deny"
}

// apiResponse is the generic send/reply response envelope.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
