package intent

import (
	"context"
	"encoding/json"
	"strings"
)

// Classifier maps a message plus session context onto one intent name.
// Implementations return a name from the catalogue or Unknown; they never
// invent intents. Errors mean the backend failed, not that the message was
// unclassifiable.
type Classifier interface {
	Classify(ctx context.Context, in Input) (string, error)
}

// intentPayload is the JSON shape the classifier prompt asks for.
type intentPayload struct {
	Intent string `json:"intent"`
}

// ParseIntentReply extracts the intent name from a model reply. Models
// occasionally wrap the JSON in prose or code fences, so parsing scans for
// the object rather than requiring a clean body. Anything unusable maps to
// Unknown.
func ParseIntentReply(reply string) string {
	reply = strings.TrimSpace(reply)

	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start >= 0 && end > start {
		var payload intentPayload
		if err := json.Unmarshal([]byte(reply[start:end+1]), &payload); err == nil {
			if IsValid(payload.Intent) {
				return payload.Intent
			}
			return Unknown
		}
	}

	// Some models answer with the bare intent name despite the format
	// instruction.
	bare := strings.Trim(reply, "\"'` \n")
	if IsValid(bare) {
		return bare
	}
	return Unknown
}
