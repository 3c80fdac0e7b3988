package emotion

import "strings"

// Label 表示情绪词表中的一个标签。空字符串表示尚未确认情绪。
type Label string

const (
	Anger          Label = "anger"
	Annoyance      Label = "annoyance"
	Disapproval    Label = "disapproval"
	Disgust        Label = "disgust"
	Fear           Label = "fear"
	Nervousness    Label = "nervousness"
	Joy            Label = "joy"
	Amusement      Label = "amusement"
	Approval       Label = "approval"
	Excitement     Label = "excitement"
	Gratitude      Label = "gratitude"
	Love           Label = "love"
	Optimism       Label = "optimism"
	Relief         Label = "relief"
	Pride          Label = "pride"
	Admiration     Label = "admiration"
	Desire         Label = "desire"
	Caring         Label = "caring"
	Sadness        Label = "sadness"
	Disappointment Label = "disappointment"
	Embarrassment  Label = "embarrassment"
	Grief          Label = "grief"
	Remorse        Label = "remorse"
	Surprise       Label = "surprise"
	Realization    Label = "realization"
	Confusion      Label = "confusion"
	Curiosity      Label = "curiosity"

	// Unset 表示情绪尚未确认。
	Unset Label = ""
)

// vocabulary 保持声明顺序，提示词按此顺序列出标签。
var vocabulary = []Label{
	Anger, Annoyance, Disapproval, Disgust, Fear, Nervousness,
	Joy, Amusement, Approval, Excitement, Gratitude, Love,
	Optimism, Relief, Pride, Admiration, Desire, Caring,
	Sadness, Disappointment, Embarrassment, Grief, Remorse,
	Surprise, Realization, Confusion, Curiosity,
}

var members = func() map[Label]struct{} {
	set := make(map[Label]struct{}, len(vocabulary))
	for _, label := range vocabulary {
		set[label] = struct{}{}
	}
	return set
}()

// All 按固定顺序返回整个词表。
func All() []Label {
	return append([]Label(nil), vocabulary...)
}

// Valid 判断 label 是否属于词表，Unset 不属于。
func Valid(label Label) bool {
	_, ok := members[label]
	return ok
}

// Normalize 把分类器的原始输出映射到词表：去空白、转小写后仍不在词表中的一律视为 Unset。
func Normalize(raw string) Label {
	label := Label(strings.ToLower(strings.TrimSpace(raw)))
	if Valid(label) {
		return label
	}
	return Unset
}

// Names 以字符串形式返回词表，供提示词和 schema 使用。
func Names() []string {
	names := make([]string, len(vocabulary))
	for i, label := range vocabulary {
		names[i] = string(label)
	}
	return names
}

// String 实现 fmt.Stringer。
func (l Label) String() string {
	return string(l)
}
