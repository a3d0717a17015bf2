package stream

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/helmet-watch/association"
	"github.com/nvr-ai/helmet-watch/util"
)

// ErrUnreadableFrame is returned for a frame that exists but cannot be decoded.
var ErrUnreadableFrame = errors.New("unreadable frame")

// Source yields decoded frames in order. Next returns io.EOF once exhausted.
// The caller owns the returned frame image and must close it.
type Source interface {
	Next() (association.Frame, error)
	Close() error
}

// frameTime places frame n on the stream clock.
func frameTime(start time.Time, n int, fps float64) time.Time {
	return start.Add(time.Duration(float64(n) / fps * float64(time.Second)))
}

// VideoSource decodes a video file. Frame IDs are 0-based and timestamps run
// on video time from the start instant, so deduplication follows the footage
// rather than the processing speed.
type VideoSource struct {
	capture *gocv.VideoCapture
	start   time.Time
	fps     float64
	index   int
}

// OpenVideo opens a video file for reading.
//
// Arguments:
//   - path: The video file.
//   - start: Timestamp of the first frame.
//   - fallbackFPS: Used when the container reports no frame rate.
//
// Returns:
//   - *VideoSource: The source; call Close when done.
//   - error: When the file cannot be opened.
func OpenVideo(path string, start time.Time, fallbackFPS float64) (*VideoSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open video %s", path)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Errorf("open video %s: not readable", path)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = fallbackFPS
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &VideoSource{capture: capture, start: start, fps: fps}, nil
}

// FPS returns the frame rate used for timestamps.
func (v *VideoSource) FPS() float64 { return v.fps }

// Next decodes the next frame.
func (v *VideoSource) Next() (association.Frame, error) {
	img := gocv.NewMat()
	if ok := v.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		return association.Frame{}, io.EOF
	}

	frame := association.Frame{
		ID:        v.index,
		Image:     img,
		Timestamp: frameTime(v.start, v.index, v.fps),
	}
	v.index++
	return frame, nil
}

// Close releases the decoder.
func (v *VideoSource) Close() error {
	return v.capture.Close()
}

// DirectorySource reads numbered still frames ("frame-12.jpg") from a
// directory. Frame IDs are the numbers in the file names.
type DirectorySource struct {
	files []util.ImageFile
	start time.Time
	fps   float64
	pos   int
}

// OpenDirectory lists the frames of dir.
func OpenDirectory(dir string, start time.Time, fps float64) (*DirectorySource, error) {
	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &DirectorySource{files: files, start: start, fps: fps}, nil
}

// Len returns the number of frames found.
func (d *DirectorySource) Len() int { return len(d.files) }

// Next decodes the next file. An undecodable file yields ErrUnreadableFrame
// and the source moves on.
func (d *DirectorySource) Next() (association.Frame, error) {
	if d.pos >= len(d.files) {
		return association.Frame{}, io.EOF
	}
	file := d.files[d.pos]
	d.pos++

	img := gocv.IMRead(file.Path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return association.Frame{ID: file.Frame}, errors.Wrap(ErrUnreadableFrame, file.Path)
	}
	return association.Frame{
		ID:        file.Frame,
		Image:     img,
		Timestamp: frameTime(d.start, file.Frame, d.fps),
	}, nil
}

// Close is a no-op; files are opened per frame.
func (d *DirectorySource) Close() error { return nil }
