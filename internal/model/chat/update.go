package chat

// Event names carried by outbound updates.
const (
	EventConnected           = "connected"
	EventReply               = "reply"
	EventGenerationStarted   = "generation_started"
	EventGenerationCompleted = "generation_completed"
	EventGenerationFailed    = "generation_failed"
)

// Update is the payload pushed to a connected client.
type Update struct {
	Event             string `json:"event"`
	SessionID         string `json:"user_id,omitempty"`
	Messages          []Turn `json:"messages"`
	Emotion           string `json:"emotion"`
	IsMusicGenerating bool   `json:"is_music_generating"`
	MusicURL          string `json:"music_url"`
}

// Update renders the snapshot as an outbound payload. MusicURL is left empty.
func (s Snapshot) Update(event string) Update {
	messages := s.History
	if messages == nil {
		messages = []Turn{}
	}
	return Update{
		Event:             event,
		SessionID:         s.ID,
		Messages:          messages,
		Emotion:           string(s.Emotion),
		IsMusicGenerating: s.Generating,
	}
}
