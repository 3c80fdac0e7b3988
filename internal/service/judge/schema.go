package judge

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/invopop/jsonschema"
)

type routeOutput struct {
	Next string `json:"next" jsonschema:"enum=consult,enum=generate_music,enum=FINISH" jsonschema_description:"The worker to act next"`
}

type consultOutput struct {
	Reply   string `json:"reply" jsonschema_description:"One sentence addressed to the user"`
	Emotion string `json:"emotion" jsonschema_description:"The user's emotion from the allowed list, or empty when unsure"`
}

type promptOutput struct {
	Content string `json:"content" jsonschema_description:"Description of the instrumental piece to generate"`
}

var (
	routeSchema   = generateSchema[routeOutput]()
	consultSchema = generateSchema[consultOutput]()
	promptSchema  = generateSchema[promptOutput]()
)

// generateSchema reflects T into a strict-mode compatible JSON schema.
func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	raw, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(err)
	}
	ensureStrict(schema)
	return schema
}

// ensureStrict marks every object closed and every property required.
func ensureStrict(schema map[string]any) {
	delete(schema, "$schema")
	delete(schema, "$id")

	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for _, prop := range props {
			if m, ok := prop.(map[string]any); ok {
				ensureStrict(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		ensureStrict(items)
	}
}

// decodeModelJSON unmarshals a model reply, tolerating prose or code fences
// around the first JSON object.
func decodeModelJSON(text string, v any) error {
	s := strings.TrimSpace(text)
	if s == "" {
		return io.ErrUnexpectedEOF
	}

	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}

	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON (len=%d): %w", len(sub), err)
	}
	return nil
}
