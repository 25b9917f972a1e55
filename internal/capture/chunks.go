package capture

import "bytes"

// ChunkBuffer accumulates the timesliced chunks of one recording in order.
// It belongs to a single recorder slot and is not safe for concurrent use.
type ChunkBuffer struct {
	chunks [][]byte
	size   int
}

func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

func (b *ChunkBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
}

func (b *ChunkBuffer) Len() int  { return len(b.chunks) }
func (b *ChunkBuffer) Size() int { return b.size }

// Bytes flattens the chunks into a single blob.
func (b *ChunkBuffer) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(b.size)
	for _, c := range b.chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

// Reset discards every chunk.
func (b *ChunkBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}
