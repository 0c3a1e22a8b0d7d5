package model

import (
	"image"

	iface "CoDetServer/interface"

	"github.com/samber/lo"
)

type candidate struct {
	classID int
	score   float32
	rect    image.Rectangle
}

// decodeRows reads YOLO output rows laid out as [cx, cy, w, h, objectness, class scores...], with the
// box normalized to the network input, and scales them to a width x height frame. Rows whose best
// class score is below conf are dropped.
func decodeRows(data []float32, cols, width, height int, conf float32) []candidate {
	if cols <= 5 {
		return nil
	}
	var out []candidate
	for _, row := range lo.Chunk(data, cols) {
		if len(row) < cols {
			break
		}
		classID, score := argmax(row[5:])
		if score < conf {
			continue
		}
		cx := row[0] * float32(width)
		cy := row[1] * float32(height)
		w := row[2] * float32(width)
		h := row[3] * float32(height)
		left := int(cx - w/2)
		top := int(cy - h/2)
		rect := image.Rect(left, top, left+int(w), top+int(h)).Intersect(image.Rect(0, 0, width, height))
		if rect.Empty() {
			continue
		}
		out = append(out, candidate{classID: classID, score: score, rect: rect})
	}
	return out
}

func argmax(scores []float32) (int, float32) {
	best, bestScore := -1, float32(0)
	for i, s := range scores {
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

func toDetections(cands []candidate, keep []int, names []string) []iface.Detection {
	out := make([]iface.Detection, 0, len(keep))
	for _, i := range keep {
		if i < 0 || i >= len(cands) {
			continue
		}
		c := cands[i]
		out = append(out, iface.Detection{
			Class:      className(names, c.classID),
			Confidence: float64(c.score),
			Box: iface.BoundingBox{
				X:      float64(c.rect.Min.X),
				Y:      float64(c.rect.Min.Y),
				Width:  float64(c.rect.Dx()),
				Height: float64(c.rect.Dy()),
			},
		})
	}
	return out
}
