package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RigidTransform is a rotation plus translation relating one cloud's frame
// to another's.
type RigidTransform struct {
	// row-major 3x3 rotation
	r [9]float64
	t r3.Vector
}

// IdentityTransform returns the identity rigid transform.
func IdentityTransform() RigidTransform {
	return RigidTransform{r: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRigidTransform builds a transform from a 3x3 rotation matrix and a
// translation vector.
func NewRigidTransform(rot mat.Matrix, t r3.Vector) (RigidTransform, error) {
	rows, cols := rot.Dims()
	if rows != 3 || cols != 3 {
		return RigidTransform{}, errors.Errorf("rotation must be 3x3, got %dx%d", rows, cols)
	}
	var tr RigidTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			tr.r[3*i+j] = rot.At(i, j)
		}
	}
	tr.t = t
	return tr, nil
}

// Apply maps a point through the transform.
func (tr RigidTransform) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: tr.r[0]*v.X + tr.r[1]*v.Y + tr.r[2]*v.Z + tr.t.X,
		Y: tr.r[3]*v.X + tr.r[4]*v.Y + tr.r[5]*v.Z + tr.t.Y,
		Z: tr.r[6]*v.X + tr.r[7]*v.Y + tr.r[8]*v.Z + tr.t.Z,
	}
}

// ApplyRotation maps a direction through the rotation only, for normals.
func (tr RigidTransform) ApplyRotation(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: tr.r[0]*v.X + tr.r[1]*v.Y + tr.r[2]*v.Z,
		Y: tr.r[3]*v.X + tr.r[4]*v.Y + tr.r[5]*v.Z,
		Z: tr.r[6]*v.X + tr.r[7]*v.Y + tr.r[8]*v.Z,
	}
}

// Compose returns tr∘other: the transform applying other first, then tr.
// Chained registration accumulates with accum = accum.Compose(local).
func (tr RigidTransform) Compose(other RigidTransform) RigidTransform {
	var out RigidTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s := 0.0
			for k := 0; k < 3; k++ {
				s += tr.r[3*i+k] * other.r[3*k+j]
			}
			out.r[3*i+j] = s
		}
	}
	out.t = tr.Apply(other.t)
	return out
}

// Translation returns the translation component.
func (tr RigidTransform) Translation() r3.Vector {
	return tr.t
}

// Rotation returns the rotation component as a dense matrix.
func (tr RigidTransform) Rotation() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), tr.r[:]...))
}

// Matrix returns the homogeneous 4x4 form.
func (tr RigidTransform) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, tr.r[3*i+j])
		}
	}
	m.Set(0, 3, tr.t.X)
	m.Set(1, 3, tr.t.Y)
	m.Set(2, 3, tr.t.Z)
	m.Set(3, 3, 1)
	return m
}

// RotationAngle returns the magnitude of the rotation in radians, from the
// trace of the rotation matrix.
func (tr RigidTransform) RotationAngle() float64 {
	trace := tr.r[0] + tr.r[4] + tr.r[8]
	c := (trace - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// ApplyOffset transforms every point of src by the given transform and
// writes the result into dst, carrying data (and rotating normals) along.
func ApplyOffset(src PointCloud, tr RigidTransform, dst PointCloud) error {
	var err error
	src.Iterate(0, 0, func(p Vec3, d Data) bool {
		if d != nil && d.HasNormal() {
			d = d.SetNormal(tr.ApplyRotation(d.Normal()))
		}
		err = dst.Set(tr.Apply(p), d)
		return err == nil
	})
	return err
}
