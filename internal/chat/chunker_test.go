package chat

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitIntoChunksReassembles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		size int
	}{
		{"short", "hi", 48},
		{"exact boundary", "twelve chars", 12},
		{"multi word", "Gradient descent walks downhill on the loss surface, one small step at a time.", 16},
		{"no spaces", strings.Repeat("x", 200), 48},
		{"long word mid text", "see https://example.com/a/very/long/path/that/never/breaks ok", 10},
		{"unicode", "θ ← θ − η∇J(θ) повторяется до сходимости на каждом шаге обучения", 12},
		{"leading and trailing spaces", "  spaced  out  ", 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			chunks := splitIntoChunks(tc.text, tc.size)
			if strings.Join(chunks, "") != tc.text {
				t.Errorf("concatenation mismatch:\n got %q\nwant %q", strings.Join(chunks, ""), tc.text)
			}
			for i, chunk := range chunks {
				if chunk == "" {
					t.Errorf("chunk %d is empty", i)
				}
				if !utf8.ValidString(chunk) {
					t.Errorf("chunk %d splits a rune: %q", i, chunk)
				}
			}
		})
	}
}

func TestSplitIntoChunksDeterministic(t *testing.T) {
	t.Parallel()

	text := "The same response must always split the same way so retries look identical."
	first := splitIntoChunks(text, 20)
	second := splitIntoChunks(text, 20)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestSplitIntoChunksKeepsWordsWhole(t *testing.T) {
	t.Parallel()

	chunks := splitIntoChunks("alpha beta gamma delta", 5)
	for i, chunk := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(chunk, " ") {
			t.Errorf("chunk %d %q does not end at a word boundary", i, chunk)
		}
	}
}

func TestSplitIntoChunksEmpty(t *testing.T) {
	t.Parallel()

	if chunks := splitIntoChunks("", 48); chunks != nil {
		t.Errorf("expected nil for empty input, got %v", chunks)
	}
}

func TestStreamerSequence(t *testing.T) {
	t.Parallel()

	emitter := newFakeEmitter()
	st := NewStreamer(8, 0)
	text := "one two three four"

	if err := st.Stream(context.Background(), emitter, text); err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	events := emitter.snapshot()
	if len(events) < 4 {
		t.Fatalf("expected at least 4 events, got %+v", events)
	}
	if events[0].event != EventAITyping || events[0].data != true {
		t.Errorf("expected leading ai_typing true, got %+v", events[0])
	}
	if last := events[len(events)-1]; last.event != EventAITyping || last.data != false {
		t.Errorf("expected trailing ai_typing false, got %+v", last)
	}

	var reconstructed strings.Builder
	completes := 0
	for _, ev := range events[1 : len(events)-1] {
		chunk := ev.data.(ChunkPayload)
		if chunk.IsComplete {
			completes++
			if chunk.Content != "" {
				t.Errorf("completion marker must carry no content, got %q", chunk.Content)
			}
			continue
		}
		reconstructed.WriteString(chunk.Content)
	}
	if completes != 1 {
		t.Errorf("expected exactly one completion marker, got %d", completes)
	}
	if reconstructed.String() != text {
		t.Errorf("reconstructed %q, want %q", reconstructed.String(), text)
	}
}

func TestStreamerEmitFailureStopsEarly(t *testing.T) {
	t.Parallel()

	emitter := newFakeEmitter()
	emitter.failAfter = 2 // typing + first chunk succeed, second chunk fails
	st := NewStreamer(4, 0)

	if err := st.Stream(context.Background(), emitter, "aaaa bbbb cccc"); err == nil {
		t.Fatal("expected an error once the emitter fails")
	}

	for _, ev := range emitter.snapshot() {
		if ev.event == EventAIMessageChunk && ev.data.(ChunkPayload).IsComplete {
			t.Error("completion marker must not be emitted after a failed chunk")
		}
	}
}
