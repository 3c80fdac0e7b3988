package judge

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
	"github.com/zhouzirui/moodtune/backend/internal/model/emotion"
)

type promptRole string

const (
	roleSystem    promptRole = "system"
	roleUser      promptRole = "user"
	roleAssistant promptRole = "assistant"
)

// promptMessage is a backend-neutral chat message.
type promptMessage struct {
	Role    promptRole
	Content string
}

const assistantPreamble = "You are a helpful AI assistant, collaborating with other assistants."

var supervisorPrompt = assistantPreamble + "\n" +
	"You are a supervisor tasked with managing a conversation between the following workers: " +
	"[consult, generate_music]. Given the following user request, respond with the worker to act next. " +
	"Each worker will perform a task and respond with their results and status. Only respond with the workers name. " +
	"If the consult worker has not yet determined the user's emotion, route to consult. " +
	"Route to generate_music only once the user's emotion is known and they have told you what kind of music they like or asked for a song."

var consultPrompt = assistantPreamble + `
You are a psychologist. Your job is to figure out the user's emotions and their favorite music genres.

Here are the steps you can follow:
1. Figure out their emotions from input of the user's text.
2. If you are not sure about the emotions, based on the knowledge you know, you can ask follow up questions to clarify.
3. Once you are certain about the emotions, make sure the emotion is in %s, you can start to ask their favorite genres of music.
4. If you are not certain about the emotions, chat more with the user and do not chat about music.
5. Never mention that other workers exist, only chat about emotion and music.

Important: the emotion you output MUST be strictly one of %s. If you are not sure, do not guess: leave it empty and ask more questions.

Answer only in one sentence.`

var musicPrompt = assistantPreamble + "\n" +
	"When being called, you are responsible for writing the description of an instrumental piece for a music generation service. " +
	"Base it on the user's emotion and the genres they mentioned in the conversation. " +
	"Describe mood, genre, instrumentation and tempo in at most two sentences."

func routeMessages(in RouteInput, limit int) []promptMessage {
	var sb strings.Builder
	sb.WriteString(supervisorPrompt)
	fmt.Fprintf(&sb, "\nIf emotion %q is not in %s, go to consult.", string(in.Emotion), vocabularyList())
	fmt.Fprintf(&sb, "\nIf is_music_generating: %t is true, always go to consult.", in.Generating)
	sb.WriteString("\nReply with a JSON object: {\"next\": \"consult\" | \"generate_music\" | \"FINISH\"}.")

	return withHistory([]promptMessage{{Role: roleSystem, Content: sb.String()}}, in.History, limit)
}

func consultMessages(in ConsultInput, limit int) []promptMessage {
	system := fmt.Sprintf(consultPrompt, vocabularyList(), vocabularyList()) +
		"\nReply with a JSON object: {\"reply\": \"<one sentence to the user>\", \"emotion\": \"<label or empty>\"}."
	note := fmt.Sprintf("is_music_generating: %t. If it is false, talk more about emotion and do not ask about music genres.", in.Generating)
	if in.Generating {
		note = "is_music_generating: true. The user's music is being generated; keep them company and talk about how they feel."
	}

	return withHistory([]promptMessage{
		{Role: roleSystem, Content: system},
		{Role: roleSystem, Content: note},
	}, in.History, limit)
}

func musicMessages(in PromptInput, limit int) []promptMessage {
	system := musicPrompt +
		fmt.Sprintf("\nThe user's emotion is %q.", string(in.Emotion)) +
		"\nReply with a JSON object: {\"content\": \"<music description>\"}."

	return withHistory([]promptMessage{{Role: roleSystem, Content: system}}, in.History, limit)
}

// withHistory appends at most limit trailing turns of history.
func withHistory(head []promptMessage, history []chat.Turn, limit int) []promptMessage {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]promptMessage, 0, len(head)+len(history))
	out = append(out, head...)
	for _, turn := range history {
		role := roleUser
		if turn.Role == chat.RoleAssistant {
			role = roleAssistant
		}
		out = append(out, promptMessage{Role: role, Content: turn.Text})
	}
	return out
}

func vocabularyList() string {
	return "[" + strings.Join(emotion.Names(), ", ") + "]"
}
