// Package dem implements C2/C3: a rectangular lat/lon elevation raster
// with bilinear interpolation and edge classification (Tile), augmented
// with a min-max quad-tree of elevation extrema used by the Duvenhage
// intersector to skip regions a ray cannot hit.
//
// Grounded on the validating-constructor and bounds-struct idiom of
// internal/common/tile_bounds.go and internal/esri/tile.go from the
// teacher repo, generalized from Web-Mercator imagery tiles to
// arbitrary-step elevation rasters.
package dem

import (
	"errors"
	"fmt"
)

// TileLocation classifies a query point relative to a tile's
// interpolation neighbourhood (§4.1).
type TileLocation int

const (
	HasInterpolationNeighbours TileLocation = iota
	NorthSide
	SouthSide
	EastSide
	WestSide
	NorthEast
	NorthWest
	SouthEast
	SouthWest
	OutOfTile
)

func (l TileLocation) String() string {
	switch l {
	case HasInterpolationNeighbours:
		return "HAS_INTERPOLATION_NEIGHBOURS"
	case NorthSide:
		return "NORTH_SIDE"
	case SouthSide:
		return "SOUTH_SIDE"
	case EastSide:
		return "EAST_SIDE"
	case WestSide:
		return "WEST_SIDE"
	case NorthEast:
		return "NORTH_EAST"
	case NorthWest:
		return "NORTH_WEST"
	case SouthEast:
		return "SOUTH_EAST"
	case SouthWest:
		return "SOUTH_WEST"
	default:
		return "OUT_OF_TILE"
	}
}

// ErrOutOfTileRange is returned when a node index is outside the tile's
// declared dimensions (§7 OUT_OF_TILE_RANGE).
var ErrOutOfTileRange = errors.New("dem: index out of tile range")

// ErrGeometryNotSet / ErrAlreadySealed / ErrNotSealed guard the tile
// lifecycle (§3 Lifecycles: geometry once, then elevations, then seal).
var (
	ErrGeometryNotSet = errors.New("dem: geometry not set")
	ErrAlreadySealed  = errors.New("dem: tile already sealed")
	ErrNotSealed      = errors.New("dem: tile not sealed")
	ErrGeometrySet    = errors.New("dem: geometry already set")
)

// Tile is a regular lat/lon elevation grid (§3 "Tile geometry").
type Tile struct {
	minLat, minLon float64
	latStep, lonStep float64
	rows, cols int

	elevations []float64 // row-major, length rows*cols
	set        []bool    // which nodes have been populated

	sealed    bool
	geomSet   bool
	tree      *quadTree
}

// NewTile returns an empty, unconfigured tile.
func NewTile() *Tile {
	return &Tile{}
}

// SetGeometry configures the tile's grid exactly once, before any
// elevation is set (§4.1).
func (t *Tile) SetGeometry(minLat, minLon, latStep, lonStep float64, rows, cols int) error {
	if t.geomSet {
		return ErrGeometrySet
	}
	if latStep <= 0 || lonStep <= 0 {
		return fmt.Errorf("dem: non-positive step (latStep=%g lonStep=%g)", latStep, lonStep)
	}
	if rows < 2 || cols < 2 {
		return fmt.Errorf("dem: tile must be at least 2x2, got %dx%d", rows, cols)
	}
	t.minLat, t.minLon = minLat, minLon
	t.latStep, t.lonStep = latStep, lonStep
	t.rows, t.cols = rows, cols
	t.elevations = make([]float64, rows*cols)
	t.set = make([]bool, rows*cols)
	t.geomSet = true
	return nil
}

func (t *Tile) index(i, j int) (int, error) {
	if i < 0 || i >= t.rows || j < 0 || j >= t.cols {
		return 0, ErrOutOfTileRange
	}
	return i*t.cols + j, nil
}

// SetElevation populates one grid node.
func (t *Tile) SetElevation(i, j int, h float64) error {
	if !t.geomSet {
		return ErrGeometryNotSet
	}
	if t.sealed {
		return ErrAlreadySealed
	}
	idx, err := t.index(i, j)
	if err != nil {
		return err
	}
	t.elevations[idx] = h
	t.set[idx] = true
	return nil
}

// Seal marks the tile immutable and builds the min-max quad-tree. It is
// the only place the tree is constructed (Open Question (a): there is
// no intermediate partially-built state).
func (t *Tile) Seal() error {
	if !t.geomSet {
		return ErrGeometryNotSet
	}
	if t.sealed {
		return ErrAlreadySealed
	}
	for _, ok := range t.set {
		if !ok {
			return fmt.Errorf("dem: seal called with unset elevation nodes")
		}
	}
	t.tree = buildQuadTree(t)
	t.sealed = true
	return nil
}

// Sealed reports whether the tile is immutable and tree-backed.
func (t *Tile) Sealed() bool { return t.sealed }

// Rows, Cols, MinLatitude, MinLongitude, LatitudeStep, LongitudeStep
// expose the tile's geometry.
func (t *Tile) Rows() int             { return t.rows }
func (t *Tile) Cols() int             { return t.cols }
func (t *Tile) MinLatitude() float64  { return t.minLat }
func (t *Tile) MinLongitude() float64 { return t.minLon }
func (t *Tile) LatitudeStep() float64 { return t.latStep }
func (t *Tile) LongitudeStep() float64 { return t.lonStep }

// MaxLatitude / MaxLongitude are the north-east corner coordinates.
func (t *Tile) MaxLatitude() float64  { return t.minLat + float64(t.rows-1)*t.latStep }
func (t *Tile) MaxLongitude() float64 { return t.minLon + float64(t.cols-1)*t.lonStep }

// Elevation returns the elevation at grid node (i, j).
func (t *Tile) Elevation(i, j int) (float64, error) {
	idx, err := t.index(i, j)
	if err != nil {
		return 0, err
	}
	return t.elevations[idx], nil
}

// NodeLatLon returns the geodetic coordinates of grid node (i, j).
func (t *Tile) NodeLatLon(i, j int) (lat, lon float64) {
	return t.minLat + float64(i)*t.latStep, t.minLon + float64(j)*t.lonStep
}

// CellIndices returns the south-west node (i, j) of the cell containing
// (lat, lon), if the point falls on or inside the tile.
func (t *Tile) CellIndices(lat, lon float64) (i, j int, err error) {
	if !t.sealed {
		return 0, 0, ErrNotSealed
	}
	fi := (lat - t.minLat) / t.latStep
	fj := (lon - t.minLon) / t.lonStep
	i = int(fi)
	j = int(fj)
	if i < 0 || i >= t.rows-1 || j < 0 || j >= t.cols-1 {
		return 0, 0, ErrOutOfTileRange
	}
	return i, j, nil
}

// Interpolated returns the bilinearly interpolated elevation at
// (lat, lon).
func (t *Tile) Interpolated(lat, lon float64) (float64, error) {
	i, j, err := t.CellIndices(lat, lon)
	if err != nil {
		return 0, err
	}
	return t.interpolateInCell(i, j, lat, lon), nil
}

func (t *Tile) interpolateInCell(i, j int, lat, lon float64) float64 {
	lat0, lon0 := t.NodeLatLon(i, j)
	u := (lat - lat0) / t.latStep
	v := (lon - lon0) / t.lonStep

	e00, _ := t.Elevation(i, j)
	e10, _ := t.Elevation(i+1, j)
	e01, _ := t.Elevation(i, j+1)
	e11, _ := t.Elevation(i+1, j+1)

	return e00*(1-u)*(1-v) + e10*u*(1-v) + e01*(1-u)*v + e11*u*v
}

// MinElevation / MaxElevation return the extrema over the whole tile,
// from the root of the quad-tree.
func (t *Tile) MinElevation() float64 {
	if t.tree == nil {
		return 0
	}
	return t.tree.root().eMin
}

func (t *Tile) MaxElevation() float64 {
	if t.tree == nil {
		return 0
	}
	return t.tree.root().eMax
}

// Classify reports a TileLocation for (lat, lon) relative to this
// tile's interpolation neighbourhood.
func (t *Tile) Classify(lat, lon float64) TileLocation {
	north := lat > t.MaxLatitude()
	south := lat < t.MinLatitude()
	east := lon > t.MaxLongitude()
	west := lon < t.MinLongitude()

	switch {
	case north && east:
		return NorthEast
	case north && west:
		return NorthWest
	case south && east:
		return SouthEast
	case south && west:
		return SouthWest
	case north:
		return NorthSide
	case south:
		return SouthSide
	case east:
		return EastSide
	case west:
		return WestSide
	default:
		if _, _, err := t.CellIndices(lat, lon); err != nil {
			return OutOfTile
		}
		return HasInterpolationNeighbours
	}
}
