package capture

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	pcmBitDepth = 16

	// unknownLength marks RIFF sizes of a WAV stream whose length is not
	// known when the header is written.
	unknownLength = math.MaxUint32
)

func wavHeader(dataSize uint32, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := uint32(unknownLength)
	if dataSize <= unknownLength-36 {
		chunkSize = 36 + dataSize
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	if _, err := buf.WriteString("RIFF"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, chunkSize); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("WAVEfmt "); err != nil {
		return nil, err
	}
	fmtChunk := []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
	}
	for _, v := range fmtChunk {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	if _, err := buf.WriteString("data"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, dataSize); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
