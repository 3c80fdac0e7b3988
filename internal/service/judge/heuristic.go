package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	"github.com/zhouzirui/moodtune/backend/internal/model/emotion"
)

// genres are matched in order; the first hit names the style of the prompt.
var genres = []string{
	"lo-fi", "lofi", "jazz", "blues", "classical", "piano", "rock", "pop", "hip hop", "hip-hop", "rap",
	"electronic", "edm", "ambient", "folk", "country", "r&b", "soul", "metal", "funk", "reggae",
	"orchestral", "acoustic", "guitar", "爵士", "古典", "钢琴", "摇滚", "流行", "民谣", "电子", "说唱",
}

var musicRequestWords = []string{
	"music", "song", "songs", "track", "tune", "play", "compose", "generate", "make me",
	"音乐", "歌", "曲子", "来一首", "生成",
}

// Heuristic is an offline Judge built on keyword matching. It never fails.
type Heuristic struct{}

func NewHeuristic() Heuristic {
	return Heuristic{}
}

// Route asks for music once an emotion is known and the latest user turn
// names a genre or asks for a song.
func (Heuristic) Route(_ context.Context, in RouteInput) (chat.Route, error) {
	if !emotion.Valid(in.Emotion) {
		return chat.RouteConsult, nil
	}
	text := strings.ToLower(latestUserText(in.History))
	if findGenre(text) != "" || containsAny(text, musicRequestWords) {
		return chat.RouteMusicRequest, nil
	}
	return chat.RouteConsult, nil
}

func (Heuristic) Consult(_ context.Context, in ConsultInput) (ConsultResult, error) {
	decision := emotion.Analyze(latestUserText(in.History))

	var reply string
	switch {
	case in.Generating:
		reply = "Your music is on its way, how are you feeling while you wait?"
	case decision.Emotion == emotion.Unset:
		reply = "Could you tell me a bit more about how you feel?"
	default:
		reply = fmt.Sprintf("It sounds like you are feeling %s, what kind of music do you enjoy?", decision.Emotion)
	}
	return ConsultResult{Reply: reply, Emotion: string(decision.Emotion)}, nil
}

func (Heuristic) Prompt(_ context.Context, in PromptInput) (string, error) {
	genre := ""
	for i := len(in.History) - 1; i >= 0 && genre == ""; i-- {
		if in.History[i].Role == chat.RoleUser {
			genre = findGenre(strings.ToLower(in.History[i].Text))
		}
	}
	return FallbackPrompt(in.Emotion, genre), nil
}

// FallbackPrompt describes an instrumental piece from an emotion and an
// optional genre.
func FallbackPrompt(label emotion.Label, genre string) string {
	mood := string(label)
	if mood == "" {
		mood = "calm"
	}
	if genre == "" {
		return fmt.Sprintf("An instrumental piece that expresses %s.", mood)
	}
	return fmt.Sprintf("A %s instrumental piece that expresses %s.", genre, mood)
}

func findGenre(text string) string {
	for _, g := range genres {
		if containsTerm(text, g) {
			return g
		}
	}
	return ""
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if containsTerm(text, w) {
			return true
		}
	}
	return false
}

// containsTerm matches term only at word boundaries, so "rap" does not hit
// "therapy". Non-ASCII bytes always count as boundaries.
func containsTerm(text, term string) bool {
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if isBoundary(text, start-1) && isBoundary(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isBoundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
