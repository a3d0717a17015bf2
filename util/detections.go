package util

import (
	"bufio"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/helmet-watch/images"
	"github.com/nvr-ai/helmet-watch/models/postprocess"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 4 << 20

// DetectionLog holds the raw model results of a stream, keyed by frame number.
type DetectionLog map[int][]postprocess.Result

// Frames returns the number of frames that carry at least one line.
func (l DetectionLog) Frames() int { return len(l) }

type frameLine struct {
	Frame      *int              `json:"frame"`
	Detections []json.RawMessage `json:"detections"`
}

type detectionLine struct {
	Class      int       `json:"class"`
	Confidence float32   `json:"confidence"`
	Box        []float64 `json:"box"`
}

// toResult converts a JSON detection; the box must be four finite numbers.
func (d detectionLine) toResult() (postprocess.Result, bool) {
	if len(d.Box) != 4 {
		return postprocess.Result{}, false
	}
	for _, v := range d.Box {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return postprocess.Result{}, false
		}
	}
	return postprocess.Result{
		Box: images.Rect{
			X1: int(d.Box[0]),
			Y1: int(d.Box[1]),
			X2: int(d.Box[2]),
			Y2: int(d.Box[3]),
		},
		Score: d.Confidence,
		Class: d.Class,
	}, true
}

// LoadDetectionLog reads a JSON Lines detection log, one frame per line:
//
//	{"frame": 12, "detections": [{"class": 3, "confidence": 0.91, "box": [x1, y1, x2, y2]}]}
//
// Blank lines are ignored. Lines that do not decode, or lack a frame number,
// are logged and skipped. A detection that does not decode, or whose box is
// not four numbers, is skipped on its own; the rest of its line is kept.
// Several lines for the same frame are merged.
//
// Arguments:
//   - r: The log content.
//   - log: Receives warnings about skipped input.
//
// Returns:
//   - DetectionLog: Results by frame number.
//   - error: Only for read failures.
func LoadDetectionLog(r io.Reader, log zerolog.Logger) (DetectionLog, error) {
	out := DetectionLog{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line frameLine
		if err := json.Unmarshal(raw, &line); err != nil {
			log.Warn().Err(err).Int("line", lineNo).Msg("skipping malformed detection line")
			continue
		}
		if line.Frame == nil || *line.Frame < 0 {
			log.Warn().Int("line", lineNo).Msg("skipping detection line without frame")
			continue
		}

		results := out[*line.Frame]
		for i, raw := range line.Detections {
			var d detectionLine
			if err := json.Unmarshal(raw, &d); err != nil {
				log.Debug().Err(err).Int("line", lineNo).Int("detection", i).Msg("skipping malformed detection")
				continue
			}
			res, ok := d.toResult()
			if !ok {
				log.Debug().Int("line", lineNo).Int("detection", i).Msg("skipping detection with malformed box")
				continue
			}
			results = append(results, res)
		}
		out[*line.Frame] = results
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read detection log at line %d", lineNo)
	}
	return out, nil
}

// LoadDetectionLogFile opens and reads a detection log from disk.
func LoadDetectionLogFile(path string, log zerolog.Logger) (DetectionLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open detection log %s", path)
	}
	defer f.Close()

	return LoadDetectionLog(f, log.With().Str("file", path).Logger())
}
