package association

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/helmet-watch/images"
	"github.com/nvr-ai/helmet-watch/store"
)

// artifactStamp is the timestamp layout of plate image names.
const artifactStamp = "20060102_150405"

// ArtifactName builds the file name of a plate crop:
// plate_<YYYYMMDD_HHMMSS>_<seq>_conf<NN>.jpg, where seq is four digits and NN
// is the truncated confidence percentage.
func ArtifactName(ts time.Time, seq int, confidence float32) string {
	return fmt.Sprintf("plate_%s_%04d_conf%d.jpg",
		ts.Format(artifactStamp), seq%10000, int(float32(confidence*100)))
}

// nextArtifactName returns the first name not present in dir, starting at
// the millisecond sequence of ts.
func nextArtifactName(dir string, ts time.Time, confidence float32) (string, error) {
	start := int(ts.UnixMilli() % 10000)
	for i := 0; i < 10000; i++ {
		name := ArtifactName(ts, start+i, confidence)
		_, err := os.Stat(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			return name, nil
		}
		if err != nil {
			return "", errors.Wrapf(err, "stat %s", name)
		}
	}
	return "", errors.Errorf("no free artifact name for %s in %s", ts.Format(artifactStamp), dir)
}

// cropPlate copies the padded plate region out of img.
func (e *Engine) cropPlate(img gocv.Mat, plate images.Rect) (gocv.Mat, error) {
	bounds := images.Rect{X2: img.Cols(), Y2: img.Rows()}
	box := plate.Pad(e.cfg.CropPadding).Clip(bounds)
	if !box.Valid() {
		return gocv.Mat{}, errors.Errorf("plate %+v lies outside the %dx%d frame", plate, bounds.X2, bounds.Y2)
	}

	region := img.Region(box.ToRectangle())
	defer region.Close()
	return region.Clone(), nil
}

// saveCrop enhances and writes a plate crop, returning the file name.
func (e *Engine) saveCrop(crop gocv.Mat, ts time.Time, confidence float32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	enhanced := e.enhancer.Enhance(crop)
	defer enhanced.Close()

	name, err := nextArtifactName(e.cfg.ImagesDir, ts, confidence)
	if err != nil {
		return "", err
	}
	if err := images.WriteJPEG(filepath.Join(e.cfg.ImagesDir, name), enhanced, e.cfg.JPEGQuality); err != nil {
		return "", err
	}
	return name, nil
}

// capturePlate persists one plate unless the session saw it recently.
// The location is only registered once both the image and the log row exist,
// so a failed capture is retried on the next frame.
func (e *Engine) capturePlate(
	ctx context.Context,
	sess *Session,
	pristine gocv.Mat,
	canvas *gocv.Mat,
	v Violation,
	ts time.Time,
	res *FrameResult,
	log zerolog.Logger,
) {
	plate := *v.Plate
	center := images.Center(plate.Box)

	if sess.plates.Seen(center, ts) {
		res.Duplicates++
		log.Debug().Int("x", center.X).Int("y", center.Y).Msg("plate captured recently")
		return
	}

	drawPlate(canvas, v)

	crop, err := e.cropPlate(pristine, plate.Box)
	if err != nil {
		res.Failures++
		log.Warn().Err(err).Msg("plate crop failed")
		return
	}
	defer crop.Close()

	name, err := e.saveCrop(crop, ts, plate.Confidence)
	if err != nil {
		res.Failures++
		log.Error().Err(err).Msg("plate image not saved")
		return
	}

	record := store.Record{
		Time:       ts,
		Confidence: plate.Confidence,
		Source:     e.cfg.Source,
		ImageFile:  name,
	}
	if err := e.store.Append(ctx, record); err != nil {
		res.Failures++
		log.Error().Err(err).Str("image", name).Msg("violation not logged")
		if rmErr := os.Remove(filepath.Join(e.cfg.ImagesDir, name)); rmErr != nil {
			log.Warn().Err(rmErr).Str("image", name).Msg("orphan plate image left behind")
		}
		return
	}

	sess.plates.Register(center, ts)
	res.PlatesSaved++
	drawPlateSaved(canvas, v)
	log.Info().
		Str("image", name).
		Float32("confidence", plate.Confidence).
		Float32("score", v.PlateScore).
		Msg("violation logged")
}

// recordMissingPlate appends a NO_PLATE row when the policy asks for it,
// deduplicating on the rider center.
func (e *Engine) recordMissingPlate(
	ctx context.Context,
	sess *Session,
	v Violation,
	ts time.Time,
	res *FrameResult,
	log zerolog.Logger,
) {
	if e.cfg.NoPlate != NoPlateRecord {
		log.Debug().Msg("violation without plate")
		return
	}

	center := images.Center(v.Rider.Box)
	if sess.riders.Seen(center, ts) {
		res.Duplicates++
		return
	}

	record := store.Record{
		Time:       ts,
		Confidence: v.NoHelmet.Confidence,
		Source:     e.cfg.Source,
		ImageFile:  store.NoPlateImage,
	}
	if err := e.store.Append(ctx, record); err != nil {
		res.Failures++
		log.Error().Err(err).Msg("plate-less violation not logged")
		return
	}
	sess.riders.Register(center, ts)
	log.Info().Msg("plate-less violation logged")
}
