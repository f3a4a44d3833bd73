package pipeline

import (
	"fmt"
)

// ExtractDetections normalises raw model output into pixel-space detections.
// Rows are [y0, x0, y1, x1, score] in normalised coordinates; rows scoring
// below threshold, or shorter than five values, are skipped. Class ids with
// no entry in labels are reported as "class_<id>".
func ExtractDetections(raw *RawOutput, width, height int, labels []string, threshold float32) []Detection {
	if raw == nil {
		return nil
	}

	results := make([]Detection, 0)
	for classID, rows := range raw.Classes {
		for _, row := range rows {
			if len(row) < 5 {
				continue
			}
			score := row[4]
			if score < threshold {
				continue
			}

			y0, x0, y1, x1 := row[0], row[1], row[2], row[3]
			results = append(results, Detection{
				Label: labelFor(labels, classID),
				BBox: BBox{
					X0: int(x0 * float32(width)),
					Y0: int(y0 * float32(height)),
					X1: int(x1 * float32(width)),
					Y1: int(y1 * float32(height)),
				},
				Confidence: score,
			})
		}
	}
	return results
}

func labelFor(labels []string, classID int) string {
	if classID < len(labels) && labels[classID] != "" {
		return labels[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}
