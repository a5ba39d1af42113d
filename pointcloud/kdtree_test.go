package pointcloud

import (
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func TestKDTreeNearest(t *testing.T) {
	pts := []Vec3{
		{0, 0, 0},
		{1, 0, 0},
		{0, 2, 0},
		{0, 0, 3},
	}
	tree := NewKDTree(pts)
	test.That(t, tree.Len(), test.ShouldEqual, 4)

	idx, dist := tree.Nearest(Vec3{X: 0.9, Y: 0.1, Z: 0})
	test.That(t, idx, test.ShouldEqual, 1)
	test.That(t, dist, test.ShouldBeLessThan, 0.2)
}

func TestKDTreeKNN(t *testing.T) {
	pts := []Vec3{
		{0, 0, 0},
		{1, 0, 0},
		{2, 0, 0},
		{10, 0, 0},
	}
	tree := NewKDTree(pts)

	nn := tree.KNN(Vec3{}, 3)
	test.That(t, nn, test.ShouldResemble, []int{0, 1, 2})

	nn = tree.KNN(Vec3{}, 10)
	test.That(t, len(nn), test.ShouldEqual, 4)

	test.That(t, tree.KNN(Vec3{}, 0), test.ShouldBeNil)
}

func TestKDTreeRadiusSearch(t *testing.T) {
	pts := []Vec3{
		{0, 0, 0},
		{0.5, 0, 0},
		{1.5, 0, 0},
		{5, 0, 0},
	}
	tree := NewKDTree(pts)

	in := tree.RadiusSearch(Vec3{}, 2, 0)
	test.That(t, in, test.ShouldResemble, []int{0, 1, 2})

	capped := tree.RadiusSearch(Vec3{}, 2, 2)
	test.That(t, capped, test.ShouldResemble, []int{0, 1})

	none := tree.RadiusSearch(Vec3{X: 100}, 1, 0)
	test.That(t, len(none), test.ShouldEqual, 0)
}

func TestKDTreeAgainstBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	pts := make([]Vec3, 200)
	for i := range pts {
		pts[i] = Vec3{X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
	}
	tree := NewKDTree(pts)

	for trial := 0; trial < 20; trial++ {
		q := Vec3{X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
		bestIdx, bestDist := -1, 1e18
		for i, p := range pts {
			if d := p.Sub(q).Norm2(); d < bestDist {
				bestIdx, bestDist = i, d
			}
		}
		idx, _ := tree.Nearest(q)
		test.That(t, idx, test.ShouldEqual, bestIdx)
	}
}
