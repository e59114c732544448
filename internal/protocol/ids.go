package protocol

import (
	"encoding/json"
	"strings"
)

// rawIDString normalises a JSON-RPC id's raw wire form (quoted string or
// bare number) to a plain map key, so request ids round-trip correctly
// regardless of whether the peer sent a string or numeric id.
func rawIDString(raw json.RawMessage) string {
	return strings.Trim(string(raw), `"`)
}

func quotedID(id string) json.RawMessage {
	return json.RawMessage(`"` + id + `"`)
}
