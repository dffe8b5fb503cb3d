package protocol

import (
	"encoding/json"

	"github.com/plus3/remoteworld/ecs"
)

// ProcWorldDiff applies a diff to the authoritative world. Its payload is an
// encoded diff and its response an encoded ApplyResult.
const ProcWorldDiff = "world_diff"

// Welcome is the first message an authority sends on a new connection.
type Welcome struct {
	UserID         string       `json:"user_id"`
	ConnectionID   string       `json:"connection_id"`
	ResourceEntity ecs.EntityId `json:"resource_entity"`
	PlayerEntity   ecs.EntityId `json:"player_entity"`
}

// ApplyResult reports what a world_diff call did.
type ApplyResult struct {
	Applied int      `json:"applied"`
	Skipped []string `json:"skipped,omitempty"`
}

// NewApplyResult summarizes an apply report.
func NewApplyResult(report ecs.ApplyReport) ApplyResult {
	result := ApplyResult{Applied: report.Applied.Len()}
	for _, err := range report.Skipped {
		result.Skipped = append(result.Skipped, err.Error())
	}
	return result
}

// Marshal encodes a handshake or RPC message.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a handshake or RPC message.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
