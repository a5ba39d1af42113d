package calib

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// Matrix is one named, row-major matrix of the calibration artifact.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Artifact is the on-disk calibration bundle: a bag of named matrices
// holding the device models, the stereo transform and the precomputed scan
// geometry. Field names are fixed; reconstruction fails loudly on a bundle
// missing any of them rather than guessing.
type Artifact map[string]Matrix

// Geometry is the per-pixel form of an artifact that triangulation walks:
// one viewing ray per camera pixel plus one light plane per projector
// column and row, all in the camera frame.
type Geometry struct {
	Cam       Intrinsics
	Rays      []r3.Vector
	Origin    r3.Vector
	ColPlanes []Plane
	RowPlanes []Plane
}

// BuildArtifact packs solved stereo parameters and their derived ray and
// plane fields into the named-matrix bundle.
func BuildArtifact(p *StereoParams) (Artifact, error) {
	cols, rows, err := p.BuildPlaneFields()
	if err != nil {
		return nil, errors.Wrap(err, "building plane fields")
	}
	rays := BuildRayField(p.Cam)

	a := Artifact{
		"cam_K":     matrixFromDense(p.Cam.K()),
		"cam_kc":    {Rows: 1, Cols: 5, Data: append([]float64(nil), p.Cam.Dist[:]...)},
		"proj_K":    matrixFromDense(p.Proj.K()),
		"proj_kc":   {Rows: 1, Cols: 5, Data: append([]float64(nil), p.Proj.Dist[:]...)},
		"R":         matrixFromDense(p.R),
		"T":         {Rows: 3, Cols: 1, Data: []float64{p.T.X, p.T.Y, p.T.Z}},
		"cam_size":  {Rows: 1, Cols: 2, Data: []float64{float64(p.Cam.Width), float64(p.Cam.Height)}},
		"proj_size": {Rows: 1, Cols: 2, Data: []float64{float64(p.Proj.Width), float64(p.Proj.Height)}},
		"Oc":        {Rows: 3, Cols: 1, Data: []float64{0, 0, 0}},
		"Nc":        packVectors(rays),
		"wPlaneCol": packPlanes(cols),
		"wPlaneRow": packPlanes(rows),
	}
	return a, nil
}

// Geometry unpacks the bundle into walkable scan geometry. The device
// extras we write (cam_kc, cam_size) are optional on load: a bundle holding
// only the named scan matrices decodes with zero distortion and the ray
// field taken as stored. When cam_size is present, a ray field whose pixel
// count disagrees with it is discarded and rebuilt from the intrinsics;
// older bundles stored rays for a cropped sensor mode.
func (a Artifact) Geometry() (*Geometry, error) {
	width, height := 0, 0
	if _, ok := a["cam_size"]; ok {
		size, err := a.matrix("cam_size")
		if err != nil {
			return nil, err
		}
		if len(size.Data) < 2 {
			return nil, errors.New("calibration artifact cam_size is malformed")
		}
		width, height = int(size.Data[0]), int(size.Data[1])
	}

	camK, err := a.dense("cam_K", 3, 3)
	if err != nil {
		return nil, err
	}
	var kc []float64
	if _, ok := a["cam_kc"]; ok {
		m, err := a.matrix("cam_kc")
		if err != nil {
			return nil, err
		}
		kc = m.Data
	}
	cam, err := IntrinsicsFromK(camK, kc, width, height)
	if err != nil {
		return nil, errors.Wrap(err, "calibration artifact cam_K")
	}

	g := &Geometry{Cam: cam}

	if oc, err := a.matrix("Oc"); err == nil && len(oc.Data) >= 3 {
		g.Origin = r3.Vector{X: oc.Data[0], Y: oc.Data[1], Z: oc.Data[2]}
	}

	nc, err := a.matrix("Nc")
	if err != nil {
		return nil, err
	}
	switch {
	case nc.Rows == 3 && (width == 0 || nc.Cols == width*height):
		g.Rays = unpackVectors(nc)
	case width > 0 && height > 0:
		g.Rays = BuildRayField(cam)
	default:
		return nil, errors.Errorf("calibration artifact Nc is %dx%d with no cam_size to rebuild from", nc.Rows, nc.Cols)
	}

	colM, err := a.matrix("wPlaneCol")
	if err != nil {
		return nil, err
	}
	g.ColPlanes, err = unpackPlanes(colM)
	if err != nil {
		return nil, errors.Wrap(err, "calibration artifact wPlaneCol")
	}
	rowM, err := a.matrix("wPlaneRow")
	if err != nil {
		return nil, err
	}
	g.RowPlanes, err = unpackPlanes(rowM)
	if err != nil {
		return nil, errors.Wrap(err, "calibration artifact wPlaneRow")
	}
	return g, nil
}

// StereoParams reassembles the device models and stereo transform from the
// bundle.
func (a Artifact) StereoParams() (*StereoParams, error) {
	camSize, err := a.matrix("cam_size")
	if err != nil {
		return nil, err
	}
	projSize, err := a.matrix("proj_size")
	if err != nil {
		return nil, err
	}
	camK, err := a.dense("cam_K", 3, 3)
	if err != nil {
		return nil, err
	}
	projK, err := a.dense("proj_K", 3, 3)
	if err != nil {
		return nil, err
	}
	camKc, err := a.matrix("cam_kc")
	if err != nil {
		return nil, err
	}
	projKc, err := a.matrix("proj_kc")
	if err != nil {
		return nil, err
	}
	r, err := a.dense("R", 3, 3)
	if err != nil {
		return nil, err
	}
	t, err := a.matrix("T")
	if err != nil {
		return nil, err
	}
	if len(t.Data) < 3 || len(camSize.Data) < 2 || len(projSize.Data) < 2 {
		return nil, errors.New("calibration artifact has malformed T or size fields")
	}

	cam, err := IntrinsicsFromK(camK, camKc.Data, int(camSize.Data[0]), int(camSize.Data[1]))
	if err != nil {
		return nil, errors.Wrap(err, "calibration artifact cam_K")
	}
	proj, err := IntrinsicsFromK(projK, projKc.Data, int(projSize.Data[0]), int(projSize.Data[1]))
	if err != nil {
		return nil, errors.Wrap(err, "calibration artifact proj_K")
	}
	return &StereoParams{
		Cam:  cam,
		Proj: proj,
		R:    r,
		T:    r3.Vector{X: t.Data[0], Y: t.Data[1], Z: t.Data[2]},
	}, nil
}

// SaveArtifact writes the bundle as JSON.
func SaveArtifact(a Artifact, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	enc := json.NewEncoder(f)
	return enc.Encode(a)
}

// LoadArtifact reads a JSON bundle.
func LoadArtifact(fn string) (_ Artifact, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	var a Artifact
	if err := json.NewDecoder(f).Decode(&a); err != nil {
		return nil, errors.Wrapf(err, "parsing calibration artifact %q", fn)
	}
	return a, nil
}

func (a Artifact) matrix(name string) (Matrix, error) {
	m, ok := a[name]
	if !ok {
		return Matrix{}, errors.Errorf("calibration artifact missing %q", name)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return Matrix{}, errors.Errorf("calibration artifact %q: %d values for %dx%d", name, len(m.Data), m.Rows, m.Cols)
	}
	return m, nil
}

func (a Artifact) dense(name string, rows, cols int) (*mat.Dense, error) {
	m, err := a.matrix(name)
	if err != nil {
		return nil, err
	}
	if m.Rows != rows || m.Cols != cols {
		return nil, errors.Errorf("calibration artifact %q is %dx%d, want %dx%d", name, m.Rows, m.Cols, rows, cols)
	}
	return mat.NewDense(rows, cols, append([]float64(nil), m.Data...)), nil
}

func matrixFromDense(d *mat.Dense) Matrix {
	r, c := d.Dims()
	out := Matrix{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		out.Data = append(out.Data, d.RawRowView(i)...)
	}
	return out
}

// packVectors lays vectors out as a 3xN matrix, one component per row.
func packVectors(vs []r3.Vector) Matrix {
	n := len(vs)
	data := make([]float64, 3*n)
	for i, v := range vs {
		data[i] = v.X
		data[n+i] = v.Y
		data[2*n+i] = v.Z
	}
	return Matrix{Rows: 3, Cols: n, Data: data}
}

func unpackVectors(m Matrix) []r3.Vector {
	n := m.Cols
	out := make([]r3.Vector, n)
	for i := range out {
		out[i] = r3.Vector{X: m.Data[i], Y: m.Data[n+i], Z: m.Data[2*n+i]}
	}
	return out
}

// packPlanes lays planes out as a 4xN matrix: three normal rows then the
// offset row.
func packPlanes(ps []Plane) Matrix {
	n := len(ps)
	data := make([]float64, 4*n)
	for i, p := range ps {
		data[i] = p.N.X
		data[n+i] = p.N.Y
		data[2*n+i] = p.N.Z
		data[3*n+i] = p.D
	}
	return Matrix{Rows: 4, Cols: n, Data: data}
}

func unpackPlanes(m Matrix) ([]Plane, error) {
	if m.Rows != 4 {
		return nil, errors.Errorf("plane field is %dx%d, want 4 rows", m.Rows, m.Cols)
	}
	n := m.Cols
	out := make([]Plane, n)
	for i := range out {
		out[i] = Plane{
			N: r3.Vector{X: m.Data[i], Y: m.Data[n+i], Z: m.Data[2*n+i]},
			D: m.Data[3*n+i],
		}
	}
	return out, nil
}
