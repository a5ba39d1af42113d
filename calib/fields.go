package calib

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Plane is a plane in the camera frame, N.X + D = 0 with unit N.
type Plane struct {
	N r3.Vector
	D float64
}

// ProjectorOrigin returns the projector's optical center in the camera
// frame, -R^T * T.
func (p *StereoParams) ProjectorOrigin() r3.Vector {
	return matVecT(p.R, p.T).Mul(-1)
}

// projectorDir back-projects a projector pixel into a camera-frame
// direction.
func (p *StereoParams) projectorDir(u, v float64) r3.Vector {
	return matVecT(p.R, p.Proj.PixelRay(u, v))
}

// BuildRayField returns one unit viewing ray per camera pixel, row-major.
// The camera sits at the origin of its own frame, so rays alone define the
// view geometry.
func BuildRayField(cam Intrinsics) []r3.Vector {
	rays := make([]r3.Vector, cam.Width*cam.Height)
	for y := 0; y < cam.Height; y++ {
		for x := 0; x < cam.Width; x++ {
			rays[y*cam.Width+x] = cam.PixelRay(float64(x), float64(y))
		}
	}
	return rays
}

// BuildPlaneFields constructs the camera-frame light plane swept by each
// projector column and row. A column's plane is spanned by the rays through
// the column's top and bottom pixels; both pass through the projector
// center, which pins the plane offset.
func (p *StereoParams) BuildPlaneFields() (cols, rows []Plane, err error) {
	origin := p.ProjectorOrigin()

	cols = make([]Plane, p.Proj.Width)
	for u := 0; u < p.Proj.Width; u++ {
		d1 := p.projectorDir(float64(u), 0)
		d2 := p.projectorDir(float64(u), float64(p.Proj.Height-1))
		cols[u], err = planeThrough(origin, d1, d2)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "column %d", u)
		}
	}
	rows = make([]Plane, p.Proj.Height)
	for v := 0; v < p.Proj.Height; v++ {
		d1 := p.projectorDir(0, float64(v))
		d2 := p.projectorDir(float64(p.Proj.Width-1), float64(v))
		rows[v], err = planeThrough(origin, d1, d2)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "row %d", v)
		}
	}
	return cols, rows, nil
}

func planeThrough(origin, d1, d2 r3.Vector) (Plane, error) {
	n := d1.Cross(d2)
	if n.Norm() == 0 {
		return Plane{}, errors.New("parallel spanning rays")
	}
	n = n.Normalize()
	return Plane{N: n, D: -n.Dot(origin)}, nil
}

// matVecT multiplies by the transpose of m.
func matVecT(m interface{ At(i, j int) float64 }, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(1, 0)*v.Y + m.At(2, 0)*v.Z,
		Y: m.At(0, 1)*v.X + m.At(1, 1)*v.Y + m.At(2, 1)*v.Z,
		Z: m.At(0, 2)*v.X + m.At(1, 2)*v.Y + m.At(2, 2)*v.Z,
	}
}
