// Package triangulate turns a decoded stripe capture into a colored point
// cloud by intersecting each camera pixel's viewing ray with the light
// plane of the projector column that pixel decoded to.
package triangulate

import (
	"image/color"
	"runtime"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/structlight/structlight/calib"
	"github.com/structlight/structlight/pattern"
	"github.com/structlight/structlight/pointcloud"
)

// degenerateDenom bounds how close a ray may be to parallel with a light
// plane before the intersection is numerically meaningless.
const degenerateDenom = 1e-6

// Reconstruct triangulates every valid pixel of the decoded frame against
// the scan geometry. Pixels whose ray grazes their plane, or whose
// intersection lands behind the camera, are dropped.
func Reconstruct(df *pattern.DecodedFrame, g *calib.Geometry, logger golog.Logger) (pointcloud.PointCloud, error) {
	if df.Width*df.Height != len(g.Rays) {
		return nil, errors.Errorf(
			"decoded frame is %dx%d but geometry has %d rays", df.Width, df.Height, len(g.Rays))
	}
	if len(g.ColPlanes) == 0 {
		return nil, errors.New("geometry has no column planes")
	}

	numBatches := runtime.NumCPU()
	if numBatches > df.Height {
		numBatches = df.Height
	}
	results := make([][]pointcloud.PointAndData, numBatches)
	var wg sync.WaitGroup
	wg.Add(numBatches)
	for batch := 0; batch < numBatches; batch++ {
		batchCopy := batch
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			results[batchCopy] = triangulateRows(df, g, batchCopy, numBatches)
		})
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += len(r)
	}
	cloud := pointcloud.NewWithPrealloc(total)
	for _, r := range results {
		for _, pd := range r {
			if err := cloud.Set(pd.P, pd.D); err != nil {
				return nil, err
			}
		}
	}
	logger.Infow("triangulated scan",
		"valid_pixels", df.ValidCount(), "points", cloud.Size())
	return cloud, nil
}

// triangulateRows handles every image row congruent to batch modulo
// numBatches.
func triangulateRows(df *pattern.DecodedFrame, g *calib.Geometry, batch, numBatches int) []pointcloud.PointAndData {
	var out []pointcloud.PointAndData
	for y := batch; y < df.Height; y += numBatches {
		for x := 0; x < df.Width; x++ {
			i := y*df.Width + x
			if !df.Valid[i] {
				continue
			}
			col := df.Cols[i]
			if col < 0 {
				col = 0
			} else if col >= len(g.ColPlanes) {
				col = len(g.ColPlanes) - 1
			}
			plane := g.ColPlanes[col]
			ray := g.Rays[i]

			denom := plane.N.Dot(ray)
			if denom > -degenerateDenom && denom < degenerateDenom {
				continue
			}
			t := -(plane.N.Dot(g.Origin) + plane.D) / denom
			if t <= 0 {
				continue
			}
			p := g.Origin.Add(ray.Mul(t))

			var d pointcloud.Data
			if df.Texture != nil {
				c := df.Texture.NRGBAAt(x, y)
				d = pointcloud.NewColoredData(color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
			} else {
				d = pointcloud.NewBasicData()
			}
			out = append(out, pointcloud.PointAndData{P: p, D: d})
		}
	}
	return out
}
