package images

import (
	"crypto/md5"
	"fmt"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DefaultJPEGQuality is the encoder quality used for evidence crops.
const DefaultJPEGQuality = 95

// WriteJPEG encodes mat as a JPEG file at path.
//
// Arguments:
//   - path: Destination file; parent directories must exist.
//   - mat: The image to encode.
//   - quality: JPEG quality in [1, 100]; out-of-range values use DefaultJPEGQuality.
//
// Returns:
//   - error: When the image is empty or the encoder could not write the file.
func WriteJPEG(path string, mat gocv.Mat, quality int) error {
	if mat.Empty() {
		return errors.Errorf("refusing to write empty image to %s", path)
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if !gocv.IMWriteWithParams(path, mat, []int{gocv.IMWriteJpegQuality, quality}) {
		return errors.Errorf("failed to write image to %s", path)
	}
	return nil
}

// ComputeMatChecksum generates a deterministic checksum for a Mat to verify idempotency.
//
// Arguments:
//   - mat: The Mat to compute checksum for.
//
// Returns:
//   - A hex-encoded MD5 checksum string, "empty" for an empty Mat.
func ComputeMatChecksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	data := mat.ToBytes()
	sum := md5.Sum(data)
	return fmt.Sprintf("%x-%dx%dx%d", sum, mat.Cols(), mat.Rows(), mat.Channels())
}
