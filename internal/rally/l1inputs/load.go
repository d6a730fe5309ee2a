package l1inputs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNoFrames is returned by the file loaders when a file parses but
// contains no records.
var ErrNoFrames = errors.New("no frames in input")

// maxInputFileSize bounds a single input file (256 MB).
const maxInputFileSize = 256 * 1024 * 1024

// Points returns the indexed points in frame order.
func (ix *TrackIndex) Points() []TrackPoint {
	out := make([]TrackPoint, len(ix.frames))
	for i, f := range ix.frames {
		out[i] = ix.points[ix.byFrame[f]]
	}
	return out
}

// DecodeTrackPoints reads either a JSON array of track points or a
// stream of JSON objects (one per line).
func DecodeTrackPoints(r io.Reader) ([]TrackPoint, error) {
	var out []TrackPoint
	if err := decodeRecords(r, func(dec *json.Decoder) error {
		var p TrackPoint
		if err := dec.Decode(&p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("decode track points: %w", err)
	}
	return out, nil
}

// DecodePoseFrames reads either a JSON array of pose frames or a stream
// of JSON objects (one per line).
func DecodePoseFrames(r io.Reader) ([]PoseFrame, error) {
	var out []PoseFrame
	if err := decodeRecords(r, func(dec *json.Decoder) error {
		var f PoseFrame
		if err := dec.Decode(&f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("decode pose frames: %w", err)
	}
	return out, nil
}

// LoadTrackPoints loads a ball track file.
func LoadTrackPoints(path string) ([]TrackPoint, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pts, err := DecodeTrackPoints(f)
	if err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoFrames)
	}
	return pts, nil
}

// LoadPoseFrames loads a pose track file.
func LoadPoseFrames(path string) ([]PoseFrame, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	frames, err := DecodePoseFrames(f)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoFrames)
	}
	return frames, nil
}

func openInput(path string) (*os.File, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input file: %w", err)
	}
	if info.Size() > maxInputFileSize {
		return nil, fmt.Errorf("input file too large: %d bytes (max %d)", info.Size(), maxInputFileSize)
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	return f, nil
}

// decodeRecords walks an array or a concatenated stream of JSON values,
// invoking next once per element.
func decodeRecords(r io.Reader, next func(*json.Decoder) error) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return err
		}
		for dec.More() {
			if err := next(dec); err != nil {
				return err
			}
		}
		_, err := dec.Token()
		return err
	}

	for {
		if err := next(dec); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			return b[0], nil
		}
		if _, err := br.ReadByte(); err != nil {
			return 0, err
		}
	}
}
