package score

import "testing"

func TestEnergyEmptyWindow(t *testing.T) {
	if got := Energy(nil); got != 0 {
		t.Errorf("Energy(nil) = %v, want 0", got)
	}
	if got := Energy([]string{}); got != 0 {
		t.Errorf("Energy([]) = %v, want 0", got)
	}
}

func TestEnergyFormula(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     float64
	}{
		{
			// 3 lexicon hits (omegalul, bruh, lmao+insane = 4 hits total),
			// caps bonus on OMEGALUL!!! and LMAO INSANE, three bangs.
			name:     "mixed hype window",
			messages: []string{"OMEGALUL!!!", "bruh", "LMAO INSANE"},
			want:     3*4 + 2 + 2 + 1.5*3, // 20.5
		},
		{
			name:     "single lexicon hit",
			messages: []string{"that was insane"},
			want:     3,
		},
		{
			name:     "repeated token counts per occurrence",
			messages: []string{"clip clip clip"},
			want:     9,
		},
		{
			name:     "caps only applies above min length",
			messages: []string{"WOW"},
			want:     0,
		},
		{
			name:     "caps ratio over threshold",
			messages: []string{"GGGG"},
			want:     2,
		},
		{
			name:     "bang weight",
			messages: []string{"ok!!"},
			want:     3,
		},
		{
			name:     "emoji above symbol threshold",
			messages: []string{"\U0001F602\U0001F602"},
			want:     4,
		},
		{
			name:     "emoji below symbol threshold not counted",
			messages: []string{"\U0001F525"},
			want:     0,
		},
		{
			name:     "plain chatter scores zero",
			messages: []string{"how is everyone doing", "good stream today"},
			want:     0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Energy(tt.messages); got != tt.want {
				t.Errorf("Energy(%q) = %v, want %v", tt.messages, got, tt.want)
			}
		})
	}
}

func TestEnergyDeterministic(t *testing.T) {
	window := []string{"OMEGALUL!!!", "bruh", "LMAO INSANE", "\U0001F602"}
	first := Energy(window)
	for i := 0; i < 100; i++ {
		if got := Energy(window); got != first {
			t.Fatalf("Energy varied across calls: %v != %v", got, first)
		}
	}
}
