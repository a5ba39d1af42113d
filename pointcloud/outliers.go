package pointcloud

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// RemoveStatisticalOutliers drops points whose mean distance to their
// nbNeighbors nearest neighbors exceeds the population mean by more than
// stdRatio standard deviations. Isolated speckle from decode noise shows up
// exactly this way: far from everything.
func RemoveStatisticalOutliers(cloud PointCloud, nbNeighbors int, stdRatio float64) (PointCloud, error) {
	if nbNeighbors < 1 {
		return nil, errors.Errorf("need at least 1 neighbor, got %d", nbNeighbors)
	}
	pts := VectorsOf(cloud)
	if len(pts) <= nbNeighbors {
		return cloud, nil
	}
	tree := NewKDTree(pts)

	meanDists := make([]float64, len(pts))
	for i, p := range pts {
		// the query point is its own nearest neighbor, so ask for one more
		nn := tree.KNN(p, nbNeighbors+1)
		sum := 0.0
		n := 0
		for _, j := range nn {
			if j == i {
				continue
			}
			sum += pts[j].Sub(p).Norm()
			n++
		}
		if n > 0 {
			meanDists[i] = sum / float64(n)
		}
	}

	mean, std := stat.MeanStdDev(meanDists, nil)
	if math.IsNaN(std) {
		std = 0
	}
	threshold := mean + stdRatio*std

	out := NewWithPrealloc(cloud.Size())
	i := 0
	var err error
	cloud.Iterate(0, 0, func(p Vec3, d Data) bool {
		keep := meanDists[i] <= threshold
		i++
		if keep {
			err = out.Set(p, d)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
