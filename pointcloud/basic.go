package pointcloud

// PointAndData is a tuple of a point's position and its data.
type PointAndData struct {
	P Vec3
	D Data
}

// basicPointCloud is the basic implementation of the PointCloud interface,
// backed by a slice of points with a map index keyed by position.
type basicPointCloud struct {
	points   []PointAndData
	indexMap map[Vec3]uint
	meta     MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a
// basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points:   make([]PointAndData, 0, size),
		indexMap: make(map[Vec3]uint, size),
		meta:     NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	idx, found := cloud.indexMap[Vec3{X: x, Y: y, Z: z}]
	if !found {
		return nil, false
	}
	return cloud.points[idx].D, true
}

func (cloud *basicPointCloud) Set(p Vec3, d Data) error {
	if idx, found := cloud.indexMap[p]; found {
		cloud.points[idx].D = d
		return nil
	}
	cloud.indexMap[p] = uint(len(cloud.points))
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p Vec3, d Data) bool) {
	lowerBound := 0
	upperBound := len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		lowerBound = myBatch * batchSize
		upperBound = (myBatch + 1) * batchSize
	}
	if upperBound > len(cloud.points) {
		upperBound = len(cloud.points)
	}
	for i := lowerBound; i < upperBound; i++ {
		if !fn(cloud.points[i].P, cloud.points[i].D) {
			return
		}
	}
}

// VectorsOf collects every position in the cloud into a slice, in iteration
// order. Useful for feeding the kd-tree and feature code.
func VectorsOf(cloud PointCloud) []Vec3 {
	vecs := make([]Vec3, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p Vec3, _ Data) bool {
		vecs = append(vecs, p)
		return true
	})
	return vecs
}
