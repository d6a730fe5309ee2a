package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/stroke.report/internal/db"
)

// Outcome flattens a finished run into the rows written by db.RunStore.
func (res *Result) Outcome() (db.RunOutcome, error) {
	if res == nil {
		return db.RunOutcome{}, errors.New("nil result")
	}
	out := db.RunOutcome{
		Status:  string(res.Status),
		Detail:  res.Detail,
		Strokes: make([]db.StrokeRow, 0, len(res.Strokes)),
	}

	var err error
	if out.SummaryJSON, err = json.Marshal(res.Summary); err != nil {
		return out, fmt.Errorf("marshal summary: %w", err)
	}
	if out.ResultJSON, err = json.Marshal(res); err != nil {
		return out, fmt.Errorf("marshal result: %w", err)
	}
	if res.Audit != nil {
		if out.AuditJSON, err = json.Marshal(res.Audit); err != nil {
			return out, fmt.Errorf("marshal audit: %w", err)
		}
	}

	for i, st := range res.Strokes {
		payload, err := json.Marshal(st)
		if err != nil {
			return out, fmt.Errorf("marshal stroke %d: %w", i, err)
		}
		out.Strokes = append(out.Strokes, db.StrokeRow{
			Index:       i,
			Start:       st.Start,
			End:         st.End,
			Peak:        st.Peak,
			StrokeType:  string(st.StrokeType),
			MaxVelocity: st.MaxVelocity,
			FormScore:   st.FormScore,
			Hitter:      string(st.Hitter()),
			Fallback:    st.Provenance.Fallback,
			Payload:     payload,
		})
	}
	return out, nil
}

// Save writes a finished run to store. The run row must already exist.
func Save(store *db.RunStore, res *Result) error {
	out, err := res.Outcome()
	if err != nil {
		return err
	}
	if err := store.SaveResult(res.RunID, out); err != nil {
		return fmt.Errorf("persist run %s: %w", res.RunID, err)
	}
	diagf("run %s persisted: status=%s detail=%s strokes=%d", res.RunID, res.Status, res.Detail, len(out.Strokes))
	return nil
}
