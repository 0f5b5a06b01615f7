package turn

import (
	"context"
	"time"
	"unicode/utf8"
)

// RevealFunc receives successive pieces of a reply for progressive display.
type RevealFunc func(chunk string) error

// Chunks splits text into pieces of at most size runes. Multi-byte
// characters are never split.
func Chunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, count := 0, 0
	for i := range text {
		if count == size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(chunks, text[start:])
}

// Reveal feeds text to fn in chunks of size runes, pausing delay between
// chunks. It stops early when ctx is done or fn fails.
func Reveal(ctx context.Context, text string, size int, delay time.Duration, fn RevealFunc) error {
	for i, chunk := range Chunks(text, size) {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}
