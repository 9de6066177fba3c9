package chat

import (
	"context"
	"log/slog"
	"time"
)

// defaultChunkSize is the target chunk length in bytes when none is configured.
const defaultChunkSize = 48

// splitIntoChunks splits text into delivery chunks. Splitting is
// deterministic and concatenation of the chunks reproduces the input
// byte-for-byte. Chunks end at the first space at or beyond the target size
// so words are never broken; a run with no spaces is carried whole, which
// also keeps cuts off multi-byte rune boundaries.
func splitIntoChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = defaultChunkSize
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= size {
			chunks = append(chunks, text)
			break
		}
		cut := size
		for cut < len(text) && text[cut] != ' ' {
			cut++
		}
		if cut < len(text) {
			cut++ // keep the space with the preceding chunk
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

// Streamer turns one completed response text into the emission protocol:
// ai_typing(true), ordered chunks, a final complete marker, ai_typing(false).
// The sequence is finite and non-restartable; a fresh call starts over.
type Streamer struct {
	ChunkSize int
	Delay     time.Duration // pause between chunks for perceived typing
}

// NewStreamer creates a streamer with the given chunking policy.
func NewStreamer(chunkSize int, delay time.Duration) *Streamer {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Streamer{ChunkSize: chunkSize, Delay: delay}
}

// Stream emits the full sequence for text on e. The trailing ai_typing(false)
// is emitted on every path, including failures, so the client never shows a
// stuck typing indicator. Returns the first emit error; the caller treats
// that as the connection being gone and discards the response.
func (st *Streamer) Stream(ctx context.Context, e Emitter, text string) error {
	if err := e.Emit(EventAITyping, true); err != nil {
		return err
	}
	defer func() {
		if err := e.Emit(EventAITyping, false); err != nil {
			slog.Debug("failed to emit typing stop", "error", err)
		}
	}()

	for _, chunk := range splitIntoChunks(text, st.ChunkSize) {
		if err := e.Emit(EventAIMessageChunk, ChunkPayload{Content: chunk}); err != nil {
			return err
		}
		if st.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(st.Delay):
			}
		}
	}

	return e.Emit(EventAIMessageChunk, ChunkPayload{IsComplete: true})
}
