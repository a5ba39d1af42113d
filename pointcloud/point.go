package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// Vec3 is a three-dimensional point or direction.
type Vec3 = r3.Vector

// NewVector is a convenience method for creating a vector.
func NewVector(x, y, z float64) Vec3 {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes data associated with a single point within a PointCloud.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.Color

	// SetColor sets the given color on the point.
	SetColor(c color.NRGBA) Data

	// HasNormal returns whether a surface normal has been estimated for
	// this point.
	HasNormal() bool

	// Normal returns the estimated unit surface normal, if any.
	Normal() r3.Vector

	// SetNormal sets the given unit normal on the point.
	SetNormal(n r3.Vector) Data
}

type basicData struct {
	hasColor bool
	c        color.NRGBA

	hasNormal bool
	n         r3.Vector
}

// NewBasicData returns a point data that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns a point data with a color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{c: c, hasColor: true}
}

func (bp *basicData) HasColor() bool {
	return bp.hasColor
}

func (bp *basicData) RGB255() (uint8, uint8, uint8) {
	return bp.c.R, bp.c.G, bp.c.B
}

func (bp *basicData) Color() color.Color {
	return &bp.c
}

func (bp *basicData) SetColor(c color.NRGBA) Data {
	bp.c = c
	bp.hasColor = true
	return bp
}

func (bp *basicData) HasNormal() bool {
	return bp.hasNormal
}

func (bp *basicData) Normal() r3.Vector {
	return bp.n
}

func (bp *basicData) SetNormal(n r3.Vector) Data {
	bp.n = n
	bp.hasNormal = true
	return bp
}
