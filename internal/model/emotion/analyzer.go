package emotion

import "strings"

// Decision 给出关键词打分得到的情绪以及得分。Score 为 0 时 Emotion 为 Unset。
type Decision struct {
	Emotion Label
	Score   int
}

var keywordBuckets = map[Label][]string{
	Anger:          {"angry", "furious", "rage", "mad at", "pissed", "生气", "愤怒", "气死"},
	Annoyance:      {"annoyed", "annoying", "irritated", "bothered", "烦", "烦死"},
	Disapproval:    {"disapprove", "not okay", "unacceptable", "wrong of", "不认同"},
	Disgust:        {"disgusted", "gross", "sickening", "revolting", "恶心"},
	Fear:           {"afraid", "scared", "terrified", "frightened", "害怕", "恐惧"},
	Nervousness:    {"nervous", "anxious", "worried", "uneasy", "紧张", "焦虑"},
	Joy:            {"happy", "joy", "glad", "delighted", "开心", "高兴", "快乐"},
	Amusement:      {"funny", "lol", "haha", "hilarious", "好笑", "哈哈"},
	Approval:       {"agree", "approve", "sounds good", "makes sense", "赞同"},
	Excitement:     {"excited", "thrilled", "can't wait", "pumped", "激动", "兴奋"},
	Gratitude:      {"thank", "grateful", "thankful", "appreciate", "谢谢", "感谢"},
	Love:           {"love", "adore", "in love", "爱"},
	Optimism:       {"hopeful", "optimistic", "looking forward", "will be fine", "希望"},
	Relief:         {"relieved", "relief", "finally over", "phew", "松了一口气"},
	Pride:          {"proud", "accomplished", "achieved", "骄傲", "自豪"},
	Admiration:     {"admire", "impressive", "amazing", "awesome", "佩服"},
	Desire:         {"wish i", "want to", "longing", "crave", "渴望"},
	Caring:         {"care about", "take care", "worried about you", "关心"},
	Sadness:        {"sad", "unhappy", "down", "depressed", "cry", "难过", "伤心"},
	Disappointment: {"disappointed", "let down", "expected more", "失望"},
	Embarrassment:  {"embarrassed", "ashamed", "awkward", "尴尬"},
	Grief:          {"grief", "lost my", "passed away", "mourning", "去世"},
	Remorse:        {"sorry", "regret", "my fault", "guilty", "后悔", "内疚"},
	Surprise:       {"surprised", "unexpected", "shocked", "wow", "惊讶"},
	Realization:    {"realized", "now i see", "it hit me", "明白了"},
	Confusion:      {"confused", "don't understand", "puzzled", "迷茫", "困惑"},
	Curiosity:      {"curious", "wonder", "interested in", "好奇"},
}

var punctuationBoost = map[Label]int{
	Excitement: 2,
	Surprise:   1,
}

// Analyze 根据文本关键词推断最可能的情绪。没有命中时返回 Unset。
func Analyze(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Unset}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	// "unhappy" 同时包含 "happy"。
	if strings.Contains(normalized, "unhappy") || strings.Contains(normalized, "not happy") {
		scores[Joy] = 0
		scores[Sadness] += 3
	}

	if exclamations :=strings.Count(text, "!"); exclamations > 0 && (scores[Excitement] > 0 || scores[Surprise] > 0) {
		scores[Excitement] += exclamations * punctuationBoost[Excitement]
		scores[Surprise] += exclamations * punctuationBoost[Surprise]
	}

	// 按词表顺序遍历，得分相同时结果确定。
	best := Unset
	bestScore := 0
	for _, label := range vocabulary {
		if s := scores[label]; s > bestScore {
			bestScore = s
			best = label
		}
	}

	return Decision{Emotion: best, Score: bestScore}
}
