package pointcloud

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// The interchange format between scans, merges and the external
// cleanup/meshing tools is ASCII PLY: positions as floats, colors as
// unsigned bytes in literal red, green, blue order regardless of how the
// source image ordered its channels. Normals are written only when the
// cloud carries them (merged clouds do, raw scans do not).

// WritePLY writes the cloud to out in ASCII PLY form.
func WritePLY(cloud PointCloud, out io.Writer) error {
	w := bufio.NewWriter(out)
	meta := cloud.MetaData()

	if _, err := fmt.Fprintf(w, "ply\nformat ascii 1.0\nelement vertex %d\n", cloud.Size()); err != nil {
		return err
	}
	if _, err := w.WriteString("property float x\nproperty float y\nproperty float z\n"); err != nil {
		return err
	}
	if meta.HasNormals {
		if _, err := w.WriteString("property float nx\nproperty float ny\nproperty float nz\n"); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\nend_header\n"); err != nil {
		return err
	}

	var err error
	cloud.Iterate(0, 0, func(p Vec3, d Data) bool {
		if _, err = fmt.Fprintf(w, "%.4f %.4f %.4f", p.X, p.Y, p.Z); err != nil {
			return false
		}
		if meta.HasNormals {
			n := r3.Vector{}
			if d != nil && d.HasNormal() {
				n = d.Normal()
			}
			if _, err = fmt.Fprintf(w, " %.4f %.4f %.4f", n.X, n.Y, n.Z); err != nil {
				return false
			}
		}
		var r, g, b uint8 = 255, 255, 255
		if d != nil && d.HasColor() {
			r, g, b = d.RGB255()
		}
		if _, err = fmt.Fprintf(w, " %d %d %d\n", r, g, b); err != nil {
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

// WritePLYFile writes the cloud to the named file.
func WritePLYFile(cloud PointCloud, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return WritePLY(cloud, f)
}

type plyHeader struct {
	vertexCount int
	props       []string
}

// ReadPLY parses an ASCII PLY stream into a point cloud.
func ReadPLY(in io.Reader) (PointCloud, error) {
	r := bufio.NewReader(in)
	header, err := readPLYHeader(r)
	if err != nil {
		return nil, err
	}

	xi := indexOf(header.props, "x")
	yi := indexOf(header.props, "y")
	zi := indexOf(header.props, "z")
	if xi < 0 || yi < 0 || zi < 0 {
		return nil, errors.Errorf("ply header lacks x/y/z properties: %v", header.props)
	}
	ri := indexOf(header.props, "red")
	gi := indexOf(header.props, "green")
	bi := indexOf(header.props, "blue")
	nxi := indexOf(header.props, "nx")
	nyi := indexOf(header.props, "ny")
	nzi := indexOf(header.props, "nz")

	pc := NewWithPrealloc(header.vertexCount)
	for i := 0; i < header.vertexCount; i++ {
		line, err := r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading vertex %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) < len(header.props) {
			return nil, errors.Errorf("vertex %d has %d fields, header declares %d", i, len(tokens), len(header.props))
		}
		vals := make([]float64, len(header.props))
		for j := range header.props {
			vals[j], err = strconv.ParseFloat(tokens[j], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "vertex %d field %q", i, tokens[j])
			}
		}
		var d Data
		if ri >= 0 && gi >= 0 && bi >= 0 {
			d = NewColoredData(color.NRGBA{uint8(vals[ri]), uint8(vals[gi]), uint8(vals[bi]), 255})
		} else {
			d = NewBasicData()
		}
		if nxi >= 0 && nyi >= 0 && nzi >= 0 {
			d = d.SetNormal(r3.Vector{X: vals[nxi], Y: vals[nyi], Z: vals[nzi]})
		}
		if err := pc.Set(Vec3{X: vals[xi], Y: vals[yi], Z: vals[zi]}, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// ReadPLYFile parses the named ASCII PLY file.
func ReadPLYFile(fn string) (_ PointCloud, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadPLY(f)
}

func readPLYHeader(r *bufio.Reader) (plyHeader, error) {
	var header plyHeader
	line, err := r.ReadString('\n')
	if err != nil {
		return header, err
	}
	if strings.TrimSpace(line) != "ply" {
		return header, errors.New("not a ply stream")
	}
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			return header, errors.Wrap(err, "unterminated ply header")
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 || fields[1] != "ascii" {
				return header, errors.Errorf("unsupported ply format %q", strings.TrimSpace(line))
			}
		case "comment":
		case "element":
			if len(fields) == 3 && fields[1] == "vertex" {
				header.vertexCount, err = strconv.Atoi(fields[2])
				if err != nil {
					return header, errors.Wrapf(err, "bad vertex count %q", fields[2])
				}
			} else {
				return header, errors.Errorf("unsupported ply element %q", strings.TrimSpace(line))
			}
		case "property":
			if len(fields) == 3 {
				header.props = append(header.props, fields[2])
			}
		case "end_header":
			return header, nil
		}
	}
}

func indexOf(props []string, name string) int {
	for i, p := range props {
		if p == name {
			return i
		}
	}
	return -1
}
