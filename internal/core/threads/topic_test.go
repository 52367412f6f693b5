package threads

import "testing"

func TestExtractTopic(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"search flights to NYC", "Search flights to NYC"},
		{"hey can you build a landing page for the bakery", "Build a landing page for the bakery"},
		{"research the history of the printing press in europe and asia during the renaissance", "Research the history of the printing press in"},
		{`rename "quarterly plan" please`, "Quarterly plan"},
		{"what time is it in Tokyo?", "What time is it in Tokyo?"},
		{"please", "Please"},
		{"   ", "Untitled"},
		{"", "Untitled"},
	}
	for _, tt := range tests {
		if got := ExtractTopic(tt.text); got != tt.want {
			t.Fatalf("ExtractTopic(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestExtractTopicCutsLongTextAtWordBoundary(t *testing.T) {
	got := ExtractTopic("the quick brown fox jumps over the lazy dog while everyone watches quietly")
	if len(got) > maxTopicChars {
		t.Fatalf("topic longer than %d chars: %q", maxTopicChars, got)
	}
	if got != "The quick brown fox jumps over the lazy dog while" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestClipKeepsRunesIntact(t *testing.T) {
	if got := clip("🚨🚨🚨", 2); got != "🚨🚨" {
		t.Fatalf("clip split a rune: %q", got)
	}
	if got := clip("abc", 10); got != "abc" {
		t.Fatalf("clip changed short text: %q", got)
	}
}
