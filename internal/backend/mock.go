package backend

import "chataide/internal/domain"

// offlineReplies are shown when no backend endpoint answers.
var offlineReplies = map[domain.Tone][3]string{
	domain.ToneCasual: {
		"yeah totally! sounds good to me",
		"for sure! i'm down",
		"yeah definitely 👍",
	},
	domain.ToneFormal: {
		"Thank you for reaching out. I'd be happy to help with that.",
		"I appreciate you letting me know. I'll take care of this.",
		"Thanks for the update. I'll follow up shortly.",
	},
	domain.ToneEnthusiastic: {
		"omg yes!! that sounds amazing! 🎉",
		"absolutely!! i'm so excited about this!",
		"yes yes yes! can't wait!!",
	},
	domain.ToneNeutral: {
		"Got it, thanks for letting me know.",
		"Understood. I'll look into this.",
		"Thanks for the heads up.",
	},
}

// OfflineReplies returns the fixed reply set for a tone. Unknown tones get
// the neutral set. The same tone always yields the same set.
func OfflineReplies(t domain.Tone) domain.ReplySet {
	r, ok := offlineReplies[t]
	if !ok {
		r = offlineReplies[domain.ToneNeutral]
	}
	return domain.ReplySet{Recommended: r[0], Backup1: r[1], Backup2: r[2]}
}
