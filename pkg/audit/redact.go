package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/prompted365/golf/pkg/models"
)

// redactInput keeps the decision-relevant shape of an input document
// (action, resource type) and replaces everything identifying with
// salted hashes: resource properties and request context.
func redactInput(raw json.RawMessage, salt []byte) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var doc struct {
		Input struct {
			Action   json.RawMessage            `json:"action"`
			Resource map[string]json.RawMessage `json:"resource"`
			Context  map[string]json.RawMessage `json:"context"`
		} `json:"input"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		payload := map[string]any{
			"input_hash":      hashBytes(raw, salt),
			"redaction_error": "invalid_json",
		}
		b, _ := json.Marshal(payload)
		return b
	}

	resource := make(map[string]any, len(doc.Input.Resource))
	for k, v := range doc.Input.Resource {
		if k == "type" {
			resource[k] = v
			continue
		}
		resource[k+"_hash"] = hashRaw(v, salt)
	}
	redacted := map[string]any{
		"input": map[string]any{
			"action":   doc.Input.Action,
			"resource": resource,
		},
	}
	if len(doc.Input.Context) > 0 {
		ctxHashes := make(map[string]string, len(doc.Input.Context))
		for k, v := range doc.Input.Context {
			ctxHashes[k] = hashRaw(v, salt)
		}
		redacted["input"].(map[string]any)["context_hash"] = ctxHashes
	}
	b, _ := json.Marshal(redacted)
	return b
}

func hashRaw(raw json.RawMessage, salt []byte) string {
	if len(raw) == 0 {
		return ""
	}
	canon, err := models.CanonicalJSON(raw)
	if err != nil {
		return hashBytes(raw, salt)
	}
	return hashBytes(canon, salt)
}

func hashBytes(b []byte, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
