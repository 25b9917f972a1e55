package transcribe

import (
	"sync"
	"testing"
)

func TestBufferAccumulatesAcrossCalls(t *testing.T) {
	buf := NewUtteranceBuffer()
	buf.AddWords([]Word{{Speaker: intPtr(0), PunctuatedWord: "Tell", Start: 0.0, End: 0.3}})
	buf.AddWords([]Word{{Speaker: intPtr(0), PunctuatedWord: "me", Start: 0.3, End: 0.5}})
	if buf.Len() != 2 {
		t.Fatalf("expected 2 buffered words, got %d", buf.Len())
	}

	flushed := buf.Flush()
	if len(flushed) != 2 || flushed[0].PunctuatedWord != "Tell" || flushed[1].PunctuatedWord != "me" {
		t.Fatalf("unexpected flush %+v", flushed)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer after flush, got %d", buf.Len())
	}
	if buf.Flush() != nil {
		t.Fatal("expected nil flush from empty buffer")
	}
}

func TestBufferWordsReturnsCopy(t *testing.T) {
	buf := NewUtteranceBuffer()
	if buf.Words() != nil {
		t.Fatal("expected nil words from empty buffer")
	}
	buf.AddWords([]Word{
		{Speaker: intPtr(0), PunctuatedWord: "Hello", Start: 0.0, End: 0.5},
		{Speaker: intPtr(0), PunctuatedWord: "world.", Start: 0.5, End: 1.0},
	})

	got := buf.Words()
	got[0].PunctuatedWord = "MUTATED"
	if buf.Len() != 2 {
		t.Fatalf("expected Words to leave the buffer intact, got %d", buf.Len())
	}
	if remaining := buf.Flush(); remaining[0].PunctuatedWord != "Hello" {
		t.Fatalf("expected buffered word unchanged, got %q", remaining[0].PunctuatedWord)
	}
}

func TestBufferConcurrentAccess(t *testing.T) {
	buf := NewUtteranceBuffer()
	word := Word{Speaker: intPtr(0), PunctuatedWord: "hi", Start: 0, End: 0.5}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.AddWords([]Word{word})
			_ = buf.Words()
			_ = buf.Len()
		}()
	}
	wg.Wait()

	if got := len(buf.Flush()); got != 10 {
		t.Fatalf("expected 10 words, got %d", got)
	}
}
