package l1inputs

import (
	"sort"
)

// PoseIndex provides per-frame, per-person lookups over a pose snapshot.
// It is built once per run and is safe for concurrent reads.
type PoseIndex struct {
	frames   []PoseFrame
	byFrame  map[int]map[int]int // frame -> person -> index into frames
	byPerson map[int][]int       // person -> indices ordered by frame
	maxFrame int
}

// NewPoseIndex indexes frames. When a (frame, person) pair repeats the
// last occurrence wins, matching upstream overwrite semantics.
func NewPoseIndex(frames []PoseFrame) *PoseIndex {
	ix := &PoseIndex{
		frames:   frames,
		byFrame:  make(map[int]map[int]int),
		byPerson: make(map[int][]int),
		maxFrame: -1,
	}
	for i, f := range frames {
		if f.FrameNumber < 0 {
			continue
		}
		people, ok := ix.byFrame[f.FrameNumber]
		if !ok {
			people = make(map[int]int)
			ix.byFrame[f.FrameNumber] = people
		}
		people[f.PersonID] = i
		if f.FrameNumber > ix.maxFrame {
			ix.maxFrame = f.FrameNumber
		}
	}
	for _, people := range ix.byFrame {
		for person, idx := range people {
			ix.byPerson[person] = append(ix.byPerson[person], idx)
		}
	}
	for person := range ix.byPerson {
		idxs := ix.byPerson[person]
		sort.Slice(idxs, func(a, b int) bool {
			return frames[idxs[a]].FrameNumber < frames[idxs[b]].FrameNumber
		})
	}
	return ix
}

// Len returns the number of indexed (frame, person) entries.
func (ix *PoseIndex) Len() int {
	n := 0
	for _, idxs := range ix.byPerson {
		n += len(idxs)
	}
	return n
}

// MaxFrame returns the highest indexed frame number, or -1 when empty.
func (ix *PoseIndex) MaxFrame() int {
	return ix.maxFrame
}

// At returns the pose of person at exactly frame.
func (ix *PoseIndex) At(frame, person int) (PoseFrame, bool) {
	people, ok := ix.byFrame[frame]
	if !ok {
		return PoseFrame{}, false
	}
	idx, ok := people[person]
	if !ok {
		return PoseFrame{}, false
	}
	return ix.frames[idx], true
}

// Nearest returns the pose of person closest to frame within ±tolerance.
// Ties prefer the earlier frame.
func (ix *PoseIndex) Nearest(frame, person, tolerance int) (PoseFrame, bool) {
	for d := 0; d <= tolerance; d++ {
		if f, ok := ix.At(frame-d, person); ok {
			return f, true
		}
		if d == 0 {
			continue
		}
		if f, ok := ix.At(frame+d, person); ok {
			return f, true
		}
	}
	return PoseFrame{}, false
}

// Within returns every person's pose within ±tolerance of frame, ordered
// by distance from frame then by person ID.
func (ix *PoseIndex) Within(frame, tolerance int) []PoseFrame {
	var out []PoseFrame
	appendFrame := func(f int) {
		people, ok := ix.byFrame[f]
		if !ok {
			return
		}
		ids := make([]int, 0, len(people))
		for id := range people {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			out = append(out, ix.frames[people[id]])
		}
	}
	appendFrame(frame)
	for d := 1; d <= tolerance; d++ {
		appendFrame(frame - d)
		appendFrame(frame + d)
	}
	return out
}

// Person returns the poses of one person ordered by frame number.
func (ix *PoseIndex) Person(person int) []PoseFrame {
	idxs := ix.byPerson[person]
	out := make([]PoseFrame, len(idxs))
	for i, idx := range idxs {
		out[i] = ix.frames[idx]
	}
	return out
}

// TrackIndex provides per-frame lookups over a ball track snapshot.
// Only valid points are indexed; for repeated frames the last valid
// point wins.
type TrackIndex struct {
	points  []TrackPoint
	byFrame map[int]int
	frames  []int // sorted distinct frames
}

// NewTrackIndex indexes the valid points of track.
func NewTrackIndex(track []TrackPoint) *TrackIndex {
	ix := &TrackIndex{
		points:  track,
		byFrame: make(map[int]int, len(track)),
	}
	for i, p := range track {
		if !p.Valid() {
			continue
		}
		if _, seen := ix.byFrame[p.Frame]; !seen {
			ix.frames = append(ix.frames, p.Frame)
		}
		ix.byFrame[p.Frame] = i
	}
	sort.Ints(ix.frames)
	return ix
}

// Len returns the number of distinct indexed frames.
func (ix *TrackIndex) Len() int {
	return len(ix.frames)
}

// At returns the point at exactly frame.
func (ix *TrackIndex) At(frame int) (TrackPoint, bool) {
	idx, ok := ix.byFrame[frame]
	if !ok {
		return TrackPoint{}, false
	}
	return ix.points[idx], true
}

// Nearest returns the point closest to frame within ±tolerance.
func (ix *TrackIndex) Nearest(frame, tolerance int) (TrackPoint, bool) {
	for d := 0; d <= tolerance; d++ {
		if p, ok := ix.At(frame - d); ok {
			return p, true
		}
		if d == 0 {
			continue
		}
		if p, ok := ix.At(frame + d); ok {
			return p, true
		}
	}
	return TrackPoint{}, false
}

// Range returns the points whose frame lies in [from, to], in frame order.
// MaxFrame returns the highest indexed frame number, or -1 when empty.
func (ix *TrackIndex) MaxFrame() int {
	if len(ix.frames) == 0 {
		return -1
	}
	return ix.frames[len(ix.frames)-1]
}

func (ix *TrackIndex) Range(from, to int) []TrackPoint {
	lo := sort.SearchInts(ix.frames, from)
	var out []TrackPoint
	for i := lo; i < len(ix.frames) && ix.frames[i] <= to; i++ {
		out = append(out, ix.points[ix.byFrame[ix.frames[i]]])
	}
	return out
}

// LastBoxAtOrBefore returns the most recent valid bounding box at or
// before frame.
func (ix *TrackIndex) LastBoxAtOrBefore(frame int) (*Rect, bool) {
	hi := sort.SearchInts(ix.frames, frame+1)
	for i := hi - 1; i >= 0; i-- {
		p := ix.points[ix.byFrame[ix.frames[i]]]
		if p.BBox != nil && p.BBox.Valid() {
			box := *p.BBox
			return &box, true
		}
	}
	return nil, false
}
