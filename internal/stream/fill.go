package stream

import (
	"math"
	"math/rand/v2"

	"github.com/tphakala/arstream/internal/timeline"
)

// MarkerFill returns a FillFunc writing up to count markers that orbit the
// image center. Each marker is missing from a buffer with probability dropRate,
// leaving its element unset.
func MarkerFill(typed *timeline.Typed[timeline.Marker], count, points int, dropRate float64, rng *rand.Rand) FillFunc {
	return func(b *timeline.Buffer, seq uint64) error {
		for id := range count {
			if dropRate > 0 && rng.Float64() < dropRate {
				continue
			}
			angle := float64(seq)*0.05 + float64(id)*2*math.Pi/float64(count)
			cx, cy := 320+200*math.Cos(angle), 240+150*math.Sin(angle)
			m := make(timeline.Marker, points)
			for p := range m {
				corner := float64(p) * 2 * math.Pi / float64(points)
				m[p] = timeline.Point{
					X: float32(cx + 10*math.Cos(corner)),
					Y: float32(cy + 10*math.Sin(corner)),
				}
			}
			if err := typed.Set(b, id, m); err != nil {
				return err
			}
		}
		return nil
	}
}

// PoseFill returns a FillFunc writing one camera pose per buffer, a rotation
// about Z with a translation that advances with seq.
func PoseFill(typed *timeline.Typed[timeline.Matrix4]) FillFunc {
	return func(b *timeline.Buffer, seq uint64) error {
		theta := float64(seq) * 0.01
		m := timeline.Identity()
		m[0], m[1] = float32(math.Cos(theta)), float32(-math.Sin(theta))
		m[4], m[5] = float32(math.Sin(theta)), float32(math.Cos(theta))
		m[3] = float32(seq) * 0.001
		_, err := typed.Add(b, m)
		return err
	}
}

// FrameFill returns a FillFunc writing a gradient frame into element 0. The
// first byte carries seq so consumers can check frame continuity.
func FrameFill(layout timeline.FrameLayout) FillFunc {
	return func(b *timeline.Buffer, seq uint64) error {
		frame, err := b.Element(0)
		if err != nil {
			return err
		}
		stride := layout.Width * layout.Components * layout.BytesPerComponent
		for y := range layout.Height {
			row := frame[y*stride : (y+1)*stride]
			for x := range row {
				row[x] = byte(x + y + int(seq))
			}
		}
		frame[0] = byte(seq)
		return nil
	}
}
