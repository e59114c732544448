package models

import "encoding/json"

// RPCMessage is the JSON-RPC 2.0 envelope used on every transport framing.
// ID is left as json.RawMessage because JSON-RPC ids may be a string,
// number, or absent (for notifications); re-marshalling must round-trip the
// original representation exactly.
type RPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsNotification reports whether this message carries no id and therefore
// expects no response.
func (m *RPCMessage) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// IsRequest reports whether this message is a request awaiting a response.
func (m *RPCMessage) IsRequest() bool {
	return m.Method != "" && len(m.ID) > 0
}

// IsResponse reports whether this message is a response (or error) to a
// previously sent request.
func (m *RPCMessage) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

// RPCError is a JSON-RPC 2.0 error object with the MCP error code
// extensions from §4.G/§7.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Content block types (§6 wire protocol).
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
)

// ContentBlock is one unit of tool/resource output normalised to the MCP
// content wire shape.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

// ImageContent builds a base64 image content block.
func ImageContent(base64Data, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentTypeImage, Data: base64Data, MimeType: mimeType}
}

// EmbeddingCacheEntry is one row of the Semantic Search Service's
// content-addressed embedding cache (§3, §4.F).
type EmbeddingCacheEntry struct {
	ToolName    string    `json:"tool_name"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
}
