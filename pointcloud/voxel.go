package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// VoxelCoords stores voxel coordinates in voxel grid axes.
type VoxelCoords struct {
	I, J, K int64
}

// GetVoxelCoordinates computes the voxel coordinates of a point, given the
// minimum point of the grid and the voxel size.
func GetVoxelCoordinates(pt, ptMin Vec3, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor((pt.X - ptMin.X) / voxelSize)),
		J: int64(math.Floor((pt.Y - ptMin.Y) / voxelSize)),
		K: int64(math.Floor((pt.Z - ptMin.Z) / voxelSize)),
	}
}

type voxelAccum struct {
	sum    r3.Vector
	rSum   float64
	gSum   float64
	bSum   float64
	nSum   r3.Vector
	n      int
	colors int
	nrms   int
}

// VoxelDownsample buckets the cloud into a regular grid of the given voxel
// size and emits one point per occupied voxel: the centroid, with color and
// normal averaged over the voxel's members.
func VoxelDownsample(cloud PointCloud, voxelSize float64) PointCloud {
	meta := cloud.MetaData()
	ptMin := Vec3{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}

	grid := make(map[VoxelCoords]*voxelAccum)
	cloud.Iterate(0, 0, func(p Vec3, d Data) bool {
		coords := GetVoxelCoordinates(p, ptMin, voxelSize)
		acc, ok := grid[coords]
		if !ok {
			acc = &voxelAccum{}
			grid[coords] = acc
		}
		acc.sum = acc.sum.Add(p)
		acc.n++
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			acc.rSum += float64(r)
			acc.gSum += float64(g)
			acc.bSum += float64(b)
			acc.colors++
		}
		if d != nil && d.HasNormal() {
			acc.nSum = acc.nSum.Add(d.Normal())
			acc.nrms++
		}
		return true
	})

	out := NewWithPrealloc(len(grid))
	for _, acc := range grid {
		centroid := acc.sum.Mul(1 / float64(acc.n))
		var d Data
		if acc.colors > 0 {
			c := float64(acc.colors)
			d = NewColoredData(color.NRGBA{
				R: uint8(math.Round(acc.rSum / c)),
				G: uint8(math.Round(acc.gSum / c)),
				B: uint8(math.Round(acc.bSum / c)),
				A: 255,
			})
		} else {
			d = NewBasicData()
		}
		if acc.nrms > 0 && acc.nSum.Norm() > 0 {
			d = d.SetNormal(acc.nSum.Normalize())
		}
		//nolint:errcheck // Set on a fresh basic cloud cannot fail
		out.Set(centroid, d)
	}
	return out
}
