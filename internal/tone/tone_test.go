package tone

import (
	"testing"

	"chataide/internal/domain"
)

func TestClassify_Table(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		tone  domain.Tone
		emoji bool
	}{
		{"empty", "", domain.ToneNeutral, false},
		{"plain", "see you at five", domain.ToneNeutral, false},
		{"double bang", "no way!!", domain.ToneEnthusiastic, false},
		{"single bang", "ok!", domain.ToneNeutral, false},
		{"omg word", "OMG that is it", domain.ToneEnthusiastic, false},
		{"wow word", "wow.", domain.ToneEnthusiastic, false},
		{"yay word", "Yay", domain.ToneEnthusiastic, false},
		{"omg inside word", "zomgz", domain.ToneNeutral, false},
		{"lol", "lol ok", domain.ToneCasual, false},
		{"haha", "HAHA nice", domain.ToneCasual, false},
		{"hahaha is not a word match", "hahaha", domain.ToneNeutral, false},
		{"thank you", "Thank you for the update", domain.ToneFormal, false},
		{"regards", "Best regards, Ann", domain.ToneFormal, false},
		{"sincerely", "Sincerely", domain.ToneFormal, false},
		{"formal substring", "kind regardsless", domain.ToneFormal, false},
		{"emoji only", "see you 🙂", domain.ToneEnthusiastic, true},
		{"dingbat", "done ✅", domain.ToneEnthusiastic, true},
		{"flag", "landed 🇫🇷", domain.ToneEnthusiastic, true},
		{"star", "great job ⭐", domain.ToneEnthusiastic, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tone, emoji := Classify(tc.text)
			if tone != tc.tone {
				t.Errorf("tone: expected %q, got %q", tc.tone, tone)
			}
			if emoji != tc.emoji {
				t.Errorf("hasEmojis: expected %v, got %v", tc.emoji, emoji)
			}
		})
	}
}

func TestClassify_EnthusiasticBeatsFormal(t *testing.T) {
	tone, _ := Classify("Thank you so much!! Regards")
	if tone != domain.ToneEnthusiastic {
		t.Fatalf("expected enthusiastic, got %q", tone)
	}
}

func TestClassify_CasualBeatsFormal(t *testing.T) {
	tone, _ := Classify("lol thank you")
	if tone != domain.ToneCasual {
		t.Fatalf("expected casual, got %q", tone)
	}
}

func TestClassify_EmojiFlagIndependentOfTone(t *testing.T) {
	// Emoji forces enthusiastic, and the flag must be reported alongside.
	for _, text := range []string{"haha 😂", "Regards 🎉", "omg 🎉"} {
		_, emoji := Classify(text)
		if !emoji {
			t.Errorf("%q: expected hasEmojis=true", text)
		}
	}
}

func TestClassify_Scenario(t *testing.T) {
	tone, emoji := Classify("omg!! can't believe it!! 🎉")
	if tone != domain.ToneEnthusiastic || !emoji {
		t.Fatalf("expected enthusiastic with emojis, got %q emoji=%v", tone, emoji)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	text := "wow thank you lol"
	first, e1 := Classify(text)
	for i := 0; i < 5; i++ {
		got, e2 := Classify(text)
		if got != first || e2 != e1 {
			t.Fatalf("run %d: got %q/%v, want %q/%v", i, got, e2, first, e1)
		}
	}
}
