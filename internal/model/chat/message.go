package chat

import (
	"encoding/json"
	"fmt"
)

// Role tags the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Fixed assistant texts around a music generation job.
const (
	GeneratingSuffix     = " \nThe music is being generated, please wait..."
	TextGenerationDone   = "The music is generated, enjoy it!"
	TextGenerationFailed = "The music generation failed, please try again later."
)

// Turn is one (speaker, text) entry of the conversation history.
// On the wire it is encoded as a two-element array: ["assistant", "text"].
type Turn struct {
	Role Role
	Text string
}

// MarshalJSON implements json.Marshaler.
func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{string(t.Role), t.Text})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("turn must have exactly 2 elements, got %d", len(pair))
	}
	t.Role = Role(pair[0])
	t.Text = pair[1]
	return nil
}
