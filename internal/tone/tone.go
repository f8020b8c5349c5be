// Package tone classifies the register of a block of conversation text.
package tone

import (
	"regexp"
	"strings"

	"chataide/internal/domain"
)

var (
	// Pictographs, emoticons, transport, supplemental symbols, regional
	// indicator flags, the miscellaneous-symbols and dingbats blocks, and the
	// arrows-and-symbols block holding ⭐ and ⬆.
	emojiPattern = regexp.MustCompile(`[\x{1F1E6}-\x{1F1FF}\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}\x{2B00}-\x{2BFF}]`)

	exclaimPattern      = regexp.MustCompile(`!{2,}`)
	enthusiasticPattern = regexp.MustCompile(`(?i)\b(omg|wow|yay)\b`)
	casualPattern       = regexp.MustCompile(`(?i)\b(lol|haha)\b`)
)

var formalPhrases = []string{"thank you", "regards", "sincerely"}

// rule is one entry of the priority list; the first matching rule wins.
type rule struct {
	tone  domain.Tone
	match func(text string, hasEmojis bool) bool
}

var rules = []rule{
	{domain.ToneEnthusiastic, func(text string, hasEmojis bool) bool {
		return hasEmojis || exclaimPattern.MatchString(text) || enthusiasticPattern.MatchString(text)
	}},
	{domain.ToneCasual, func(text string, _ bool) bool {
		return casualPattern.MatchString(text)
	}},
	{domain.ToneFormal, func(text string, _ bool) bool {
		lower := strings.ToLower(text)
		for _, p := range formalPhrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}},
}

// HasEmojis reports whether text contains a code point from the emoji ranges.
func HasEmojis(text string) bool {
	return emojiPattern.MatchString(text)
}

// Classify returns the tone of the joined conversation text and whether it
// contains emojis. It is pure and deterministic.
func Classify(text string) (domain.Tone, bool) {
	hasEmojis := HasEmojis(text)
	for _, r := range rules {
		if r.match(text, hasEmojis) {
			return r.tone, hasEmojis
		}
	}
	return domain.ToneNeutral, hasEmojis
}
