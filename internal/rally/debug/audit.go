package debug

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
)

// Audit line types.
const (
	lineHeader = "header"
	lineEvent  = "event"
	lineStroke = "stroke"
)

// maxAuditLine bounds one JSON line; raw model replies can be long.
const maxAuditLine = 8 << 20

type auditLine struct {
	Type   string            `json:"type"`
	Header *Record           `json:"header,omitempty"`
	Event  *EventRecord      `json:"event,omitempty"`
	Stroke *l6strokes.Stroke `json:"stroke,omitempty"`
}

// WriteAudit writes rec as JSON lines: one header line carrying the run
// metadata and detector outputs, then one line per event and per stroke.
func WriteAudit(w io.Writer, rec *Record) error {
	if rec == nil {
		return errors.New("nil audit record")
	}
	enc := json.NewEncoder(w)
	header := *rec
	header.Events = nil
	header.Strokes = nil
	if err := enc.Encode(auditLine{Type: lineHeader, Header: &header}); err != nil {
		return fmt.Errorf("write audit header: %w", err)
	}
	for i := range rec.Events {
		if err := enc.Encode(auditLine{Type: lineEvent, Event: &rec.Events[i]}); err != nil {
			return fmt.Errorf("write audit event %d: %w", i, err)
		}
	}
	for i := range rec.Strokes {
		if err := enc.Encode(auditLine{Type: lineStroke, Stroke: &rec.Strokes[i]}); err != nil {
			return fmt.Errorf("write audit stroke %d: %w", i, err)
		}
	}
	return nil
}

// ReadAudit reads a record written by WriteAudit. Unknown line types are
// skipped so newer writers stay readable.
func ReadAudit(r io.Reader) (*Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxAuditLine)

	var rec *Record
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var line auditLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("audit line %d: %w", lineNo, err)
		}
		switch line.Type {
		case lineHeader:
			if line.Header == nil {
				return nil, fmt.Errorf("audit line %d: empty header", lineNo)
			}
			rec = line.Header
		case lineEvent, lineStroke:
			if rec == nil {
				return nil, fmt.Errorf("audit line %d: %s before header", lineNo, line.Type)
			}
			if line.Event != nil {
				rec.Events = append(rec.Events, *line.Event)
			}
			if line.Stroke != nil {
				rec.Strokes = append(rec.Strokes, *line.Stroke)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	if rec == nil {
		return nil, errors.New("audit has no header")
	}
	return rec, nil
}
