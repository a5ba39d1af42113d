package align

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/structlight/structlight/pointcloud"
)

const (
	icpMaxIterations = 30
	icpTolerance     = 1e-6
)

type icpResult struct {
	transform pointcloud.RigidTransform
	fitness   float64
	rmse      float64
}

// icpPointToPlane refines an initial src-to-dst transform by iteratively
// minimizing point-to-plane distances against the destination surface. The
// six-parameter update is the standard small-angle linearization solved by
// least squares each round.
func icpPointToPlane(
	src []pointcloud.Vec3,
	dstTree *pointcloud.KDTree,
	dstNormals []r3.Vector,
	init pointcloud.RigidTransform,
	maxDist float64,
) (icpResult, error) {
	current := init
	prevRMSE := math.Inf(1)
	var result icpResult

	for iter := 0; iter < icpMaxIterations; iter++ {
		var rows [][6]float64
		var rhs []float64
		sumSq := 0.0

		for _, s := range src {
			p := current.Apply(s)
			j, d := dstTree.Nearest(p)
			if j < 0 || d > maxDist {
				continue
			}
			q := dstTree.At(j)
			n := dstNormals[j]
			if n.Norm() == 0 {
				continue
			}
			resid := n.Dot(q.Sub(p))
			c := p.Cross(n)
			rows = append(rows, [6]float64{c.X, c.Y, c.Z, n.X, n.Y, n.Z})
			rhs = append(rhs, resid)
			sumSq += resid * resid
		}
		if len(rows) < 6 {
			return icpResult{}, errors.Errorf("icp has %d correspondences, cannot solve", len(rows))
		}

		rmse := math.Sqrt(sumSq / float64(len(rows)))
		result = icpResult{
			transform: current,
			fitness:   float64(len(rows)) / float64(len(src)),
			rmse:      rmse,
		}
		if math.Abs(prevRMSE-rmse) < icpTolerance {
			break
		}
		prevRMSE = rmse

		a := mat.NewDense(len(rows), 6, nil)
		b := mat.NewVecDense(len(rows), rhs)
		for i, r := range rows {
			a.SetRow(i, r[:])
		}
		var x mat.VecDense
		if err := x.SolveVec(a, b); err != nil {
			return icpResult{}, errors.Wrap(err, "icp least squares")
		}

		update, err := smallMotion(x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3), x.AtVec(4), x.AtVec(5))
		if err != nil {
			return icpResult{}, err
		}
		current = update.Compose(current)
	}
	return result, nil
}

// smallMotion builds the rigid transform for small rotations (alpha, beta,
// gamma) about x, y, z plus a translation.
func smallMotion(alpha, beta, gamma, tx, ty, tz float64) (pointcloud.RigidTransform, error) {
	ca, sa := math.Cos(alpha), math.Sin(alpha)
	cb, sb := math.Cos(beta), math.Sin(beta)
	cg, sg := math.Cos(gamma), math.Sin(gamma)
	rot := mat.NewDense(3, 3, []float64{
		cb * cg, sa*sb*cg - ca*sg, ca*sb*cg + sa*sg,
		cb * sg, sa*sb*sg + ca*cg, ca*sb*sg - sa*cg,
		-sb, sa * cb, ca * cb,
	})
	return pointcloud.NewRigidTransform(rot, r3.Vector{X: tx, Y: ty, Z: tz})
}
