// Package pointcloud defines a colored point cloud and the operations the
// scanner pipeline needs over one: PLY interchange, voxel downsampling,
// normal estimation, outlier filtering and rigid transforms.
package pointcloud

import "math"

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor   bool
	HasNormals bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
}

// PointCloud is a general purpose container of points. Point order carries
// no meaning; duplicate positions overwrite.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data.
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p Vec3, d Data) error

	// At returns the data of the point at the given position, and whether
	// such a point exists.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration stops. numBatches lets you divide up the work: 0 means
	// don't divide; otherwise myBatch selects which batch to visit, and
	// batches may be iterated concurrently.
	Iterate(numBatches, myBatch int, fn func(p Vec3, d Data) bool)
}

// NewMetaData creates a new MetaData.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new point.
func (meta *MetaData) Merge(p Vec3, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasNormal() {
			meta.HasNormals = true
		}
	}

	if p.X > meta.MaxX {
		meta.MaxX = p.X
	}
	if p.Y > meta.MaxY {
		meta.MaxY = p.Y
	}
	if p.Z > meta.MaxZ {
		meta.MaxZ = p.Z
	}
	if p.X < meta.MinX {
		meta.MinX = p.X
	}
	if p.Y < meta.MinY {
		meta.MinY = p.Y
	}
	if p.Z < meta.MinZ {
		meta.MinZ = p.Z
	}
	meta.totalX += p.X
	meta.totalY += p.Y
	meta.totalZ += p.Z
}

// Center returns the centroid of all points merged into the meta data.
func (meta *MetaData) Center(size int) Vec3 {
	if size == 0 {
		return Vec3{}
	}
	n := float64(size)
	return Vec3{meta.totalX / n, meta.totalY / n, meta.totalZ / n}
}
