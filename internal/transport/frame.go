package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Stream transports prefix each payload with "PV" and a big-endian uint16 length.
var frameMagic = [2]byte{'P', 'V'}

const frameHeaderLen = 4

type readFullFunc func(buf []byte) error

func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}

	frame := make([]byte, frameHeaderLen+len(payload))
	copy(frame, frameMagic[:])
	// #nosec G115 -- bounded by math.MaxUint16 above.
	binary.BigEndian.PutUint16(frame[2:frameHeaderLen], uint16(len(payload)))
	copy(frame[frameHeaderLen:], payload)
	return frame, nil
}

func readFrame(readFull readFullFunc) ([]byte, error) {
	if err := syncToMagic(readFull); err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if err := readFull(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if n == 0 {
		return nil, fmt.Errorf("invalid frame length: %d", n)
	}

	payload := make([]byte, n)
	if err := readFull(payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// syncToMagic skips bytes until the two magic bytes were read in sequence.
func syncToMagic(readFull readFullFunc) error {
	var b [1]byte
	prev := byte(0)
	havePrev := false
	for {
		if err := readFull(b[:]); err != nil {
			return fmt.Errorf("read frame magic: %w", err)
		}
		if havePrev && prev == frameMagic[0] && b[0] == frameMagic[1] {
			return nil
		}
		prev, havePrev = b[0], true
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)
		return err
	}
}
