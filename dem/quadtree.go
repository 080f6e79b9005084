package dem

import "math"

// extent is a min-max quad-tree node: the elevation range over a block
// of (subRows x subCols) raw cells starting at (minSubRow, minSubCol)
// (§3 "Min-max quad-tree", §4.1).
type extent struct {
	minSubRow, minSubCol int
	subRows, subCols     int
	eMin, eMax           float64
}

// quadTree is the full pyramid, level 0 = finest (raw cell grid),
// last level = the single root covering the whole tile.
type quadTree struct {
	levels [][]levelNode // level 0 first
	rows   []int         // row count of each level's node grid
	cols   []int         // col count of each level's node grid
}

type levelNode struct {
	eMin, eMax float64
}

func (qt *quadTree) root() levelNode {
	last := qt.levels[len(qt.levels)-1]
	return last[0]
}

// buildQuadTree constructs the pyramid from a sealed tile's raw
// (rows-1)x(cols-1) cell grid, pairing adjacent cells horizontally then
// vertically and taking min/max pairwise until one cell remains (§4.1).
func buildQuadTree(t *Tile) *quadTree {
	cellRows := t.rows - 1
	cellCols := t.cols - 1

	level0 := make([]levelNode, cellRows*cellCols)
	for i := 0; i < cellRows; i++ {
		for j := 0; j < cellCols; j++ {
			e00, _ := t.Elevation(i, j)
			e10, _ := t.Elevation(i+1, j)
			e01, _ := t.Elevation(i, j+1)
			e11, _ := t.Elevation(i+1, j+1)
			mn := math.Min(math.Min(e00, e10), math.Min(e01, e11))
			mx := math.Max(math.Max(e00, e10), math.Max(e01, e11))
			level0[i*cellCols+j] = levelNode{eMin: mn, eMax: mx}
		}
	}

	qt := &quadTree{
		levels: [][]levelNode{level0},
		rows:   []int{cellRows},
		cols:   []int{cellCols},
	}

	rows, cols := cellRows, cellCols
	cur := level0
	for rows > 1 || cols > 1 {
		nextRows := (rows + 1) / 2
		nextCols := (cols + 1) / 2
		next := make([]levelNode, nextRows*nextCols)

		for i := 0; i < nextRows; i++ {
			for j := 0; j < nextCols; j++ {
				var mn, mx float64
				first := true
				for di := 0; di < 2; di++ {
					for dj := 0; dj < 2; dj++ {
						si := i*2 + di
						sj := j*2 + dj
						if si >= rows || sj >= cols {
							continue
						}
						n := cur[si*cols+sj]
						if first {
							mn, mx = n.eMin, n.eMax
							first = false
						} else {
							mn = math.Min(mn, n.eMin)
							mx = math.Max(mx, n.eMax)
						}
					}
				}
				next[i*nextCols+j] = levelNode{eMin: mn, eMax: mx}
			}
		}

		qt.levels = append(qt.levels, next)
		qt.rows = append(qt.rows, nextRows)
		qt.cols = append(qt.cols, nextCols)
		cur = next
		rows, cols = nextRows, nextCols
	}

	return qt
}

// LevelCount returns the number of pyramid levels, level 0 = finest.
func (t *Tile) LevelCount() int {
	if t.tree == nil {
		return 0
	}
	return len(t.tree.levels)
}

// ExtentAt returns the (subRows x subCols) block shape and elevation
// range of node (row, col) at the given pyramid level.
func (t *Tile) ExtentAt(level, row, col int) (minSubRow, minSubCol, subRows, subCols int, eMin, eMax float64, ok bool) {
	if t.tree == nil || level < 0 || level >= len(t.tree.levels) {
		return 0, 0, 0, 0, 0, 0, false
	}
	if row < 0 || row >= t.tree.rows[level] || col < 0 || col >= t.tree.cols[level] {
		return 0, 0, 0, 0, 0, 0, false
	}
	blockSize := 1 << uint(level)
	n := t.tree.levels[level][row*t.tree.cols[level]+col]
	return row * blockSize, col * blockSize, blockSize, blockSize, n.eMin, n.eMax, true
}
