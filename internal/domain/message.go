package domain

import "strings"

// Tone is the coarse register of a conversation.
type Tone string

const (
	ToneNeutral      Tone = "neutral"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
	ToneEnthusiastic Tone = "enthusiastic"
)

// ParseTone maps a free-form tone name to a Tone. Unknown names map to neutral.
func ParseTone(s string) Tone {
	switch Tone(strings.ToLower(strings.TrimSpace(s))) {
	case ToneCasual:
		return ToneCasual
	case ToneFormal:
		return ToneFormal
	case ToneEnthusiastic:
		return ToneEnthusiastic
	default:
		return ToneNeutral
	}
}

// MaxMessages is the size of the extraction window.
const MaxMessages = 10

type Message struct {
	Text string `json:"text"`
}

// Conversation is the recent text of a chat, oldest first.
// A successfully extracted Conversation always holds at least one message.
type Conversation struct {
	Messages  []Message `json:"messages"`
	Tone      Tone      `json:"tone"`
	HasEmojis bool      `json:"hasEmojis"`
}

// Texts returns the raw message strings in order.
func (c Conversation) Texts() []string {
	out := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = m.Text
	}
	return out
}

// Joined returns all message texts separated by single spaces.
func (c Conversation) Joined() string {
	return strings.Join(c.Texts(), " ")
}

// ReplySet holds the three reply candidates shown to the user.
type ReplySet struct {
	Recommended string `json:"recommended"`
	Backup1     string `json:"backup1"`
	Backup2     string `json:"backup2"`
}

// ReplySetFrom maps a three-element slice onto a ReplySet.
// It reports false unless there are exactly three non-blank replies.
func ReplySetFrom(replies []string) (ReplySet, bool) {
	if len(replies) != 3 {
		return ReplySet{}, false
	}
	for _, r := range replies {
		if strings.TrimSpace(r) == "" {
			return ReplySet{}, false
		}
	}
	return ReplySet{Recommended: replies[0], Backup1: replies[1], Backup2: replies[2]}, true
}

// All returns the replies in display order.
func (r ReplySet) All() []string {
	return []string{r.Recommended, r.Backup1, r.Backup2}
}

// Pick returns a reply by its display name: recommended, backup-1 or backup-2
// (also accepted: 1, 2, 3, backup1, backup2).
func (r ReplySet) Pick(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "recommended", "1":
		return r.Recommended, true
	case "backup-1", "backup1", "2":
		return r.Backup1, true
	case "backup-2", "backup2", "3":
		return r.Backup2, true
	}
	return "", false
}
