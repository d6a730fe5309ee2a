// Package framegrab reads single frames from a recording for the external
// classifier: it seeks, draws the ball box, downsizes and JPEG-encodes.
package framegrab

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
)

// ErrFrameUnavailable is returned when a frame cannot be decoded.
var ErrFrameUnavailable = errors.New("frame unavailable")

// Options tune the encoded frames.
type Options struct {
	// MaxWidth downsizes wider frames, keeping the aspect ratio. Zero
	// keeps the native size.
	MaxWidth int
	// BoxColor outlines the ball box.
	BoxColor  color.RGBA
	Thickness int
}

// DefaultOptions returns 640px-wide frames with a green box.
func DefaultOptions() Options {
	return Options{
		MaxWidth:  640,
		BoxColor:  color.RGBA{0, 255, 0, 0},
		Thickness: 2,
	}
}

// VideoSampler serves annotated frames from one video file. It is safe
// for concurrent use; reads are serialised on the capture.
type VideoSampler struct {
	mu   sync.Mutex
	cap  *gocv.VideoCapture
	opts Options
	meta l1inputs.VideoMeta
}

// Open opens path for random frame access.
func Open(path string, opts Options) (*VideoSampler, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if opts.Thickness <= 0 {
		opts.Thickness = DefaultOptions().Thickness
	}
	s := &VideoSampler{
		cap:  vc,
		opts: opts,
		meta: l1inputs.VideoMeta{
			Width:       int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height:      int(vc.Get(gocv.VideoCaptureFrameHeight)),
			FPS:         vc.Get(gocv.VideoCaptureFPS),
			TotalFrames: int(vc.Get(gocv.VideoCaptureFrameCount)),
		},
	}
	diagf("opened %s: %dx%d @ %.2f fps, %d frames", path, s.meta.Width, s.meta.Height, s.meta.FPS, s.meta.TotalFrames)
	return s, nil
}

// Meta reports the recording's properties as read from the container.
func (s *VideoSampler) Meta() l1inputs.VideoMeta {
	return s.meta
}

// Frame implements l5classify.FrameSource. box, if non-nil, is outlined
// in the frame's native coordinates before scaling.
func (s *VideoSampler) Frame(ctx context.Context, frame int, box *l1inputs.Rect) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame < 0 || (s.meta.TotalFrames > 0 && frame >= s.meta.TotalFrames) {
		return nil, fmt.Errorf("frame %d outside 0-%d: %w", frame, s.meta.TotalFrames-1, ErrFrameUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mat := gocv.NewMat()
	defer mat.Close()
	s.cap.Set(gocv.VideoCapturePosFrames, float64(frame))
	if ok := s.cap.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("frame %d: %w", frame, ErrFrameUnavailable)
	}

	if r, ok := boxRect(box, mat.Cols(), mat.Rows()); ok {
		gocv.Rectangle(&mat, r, s.opts.BoxColor, s.opts.Thickness)
	}

	out := mat
	if w, h, ok := scaledSize(mat.Cols(), mat.Rows(), s.opts.MaxWidth); ok {
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(mat, &small, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
		out = small
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, out)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", frame, err)
	}
	defer buf.Close()
	data := append([]byte(nil), buf.GetBytes()...)
	tracef("frame %d: %d bytes (box=%v)", frame, len(data), box != nil)
	return data, nil
}

// Close releases the capture.
func (s *VideoSampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cap.Close()
}

// boxRect converts a ball box into integer pixel bounds clipped to the
// frame. Boxes that are invalid or fall entirely outside are dropped.
func boxRect(box *l1inputs.Rect, width, height int) (image.Rectangle, bool) {
	if box == nil || !box.Valid() || width <= 0 || height <= 0 {
		return image.Rectangle{}, false
	}
	r := image.Rect(
		int(math.Floor(box.X1)), int(math.Floor(box.Y1)),
		int(math.Ceil(box.X2)), int(math.Ceil(box.Y2)),
	).Intersect(image.Rect(0, 0, width, height))
	if r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}

// scaledSize returns the dimensions for a frame at most maxWidth wide.
func scaledSize(width, height, maxWidth int) (int, int, bool) {
	if maxWidth <= 0 || width <= maxWidth || width <= 0 {
		return width, height, false
	}
	h := int(math.Round(float64(height) * float64(maxWidth) / float64(width)))
	return maxWidth, max(1, h), true
}
