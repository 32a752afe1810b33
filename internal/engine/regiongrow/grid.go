package regiongrow

// grid addresses a contiguous volume in storage order.
type grid struct {
	shape [3]int
}

// box is an inclusive axis-aligned region of a grid.
type box struct {
	lo, hi [3]int
}

func (b box) contains(c [3]int) bool {
	for a := range 3 {
		if c[a] < b.lo[a] || c[a] > b.hi[a] {
			return false
		}
	}
	return true
}

func (b box) extent(a int) int {
	return b.hi[a] - b.lo[a] + 1
}

func (b box) size() int {
	return b.extent(0) * b.extent(1) * b.extent(2)
}

func (b box) local(c [3]int) int {
	return ((c[0]-b.lo[0])*b.extent(1)+(c[1]-b.lo[1]))*b.extent(2) + (c[2] - b.lo[2])
}

func (g grid) len() int {
	return g.shape[0] * g.shape[1] * g.shape[2]
}

func (g grid) inside(c [3]int) bool {
	for a := range 3 {
		if c[a] < 0 || c[a] >= g.shape[a] {
			return false
		}
	}
	return true
}

func (g grid) index(c [3]int) int {
	return (c[0]*g.shape[1]+c[1])*g.shape[2] + c[2]
}

func (g grid) coord(i int) [3]int {
	plane := g.shape[1] * g.shape[2]
	return [3]int{i / plane, (i % plane) / g.shape[2], i % g.shape[2]}
}

// window returns the bounding box of coords grown by radius and clipped to the grid.
func (g grid) window(coords [][3]int, radius int) box {
	b := box{lo: coords[0], hi: coords[0]}
	for _, c := range coords[1:] {
		for a := range 3 {
			b.lo[a] = min(b.lo[a], c[a])
			b.hi[a] = max(b.hi[a], c[a])
		}
	}
	for a := range 3 {
		b.lo[a] = max(0, b.lo[a]-radius)
		b.hi[a] = min(g.shape[a]-1, b.hi[a]+radius)
	}
	return b
}

// nonzero returns the indices and coordinates of non-zero voxels of mask.
func (g grid) nonzero(mask []uint8) ([]int, [][3]int) {
	var (
		idx    []int
		coords [][3]int
	)
	for i, v := range mask {
		if v != 0 {
			idx = append(idx, i)
			coords = append(coords, g.coord(i))
		}
	}
	return idx, coords
}

var (
	faceOffsets = [][3]int{
		{-1, 0, 0}, {1, 0, 0},
		{0, -1, 0}, {0, 1, 0},
		{0, 0, -1}, {0, 0, 1},
	}
	fullOffsets = func() [][3]int {
		var out [][3]int
		for d0 := -1; d0 <= 1; d0++ {
			for d1 := -1; d1 <= 1; d1++ {
				for d2 := -1; d2 <= 1; d2++ {
					if d0 != 0 || d1 != 0 || d2 != 0 {
						out = append(out, [3]int{d0, d1, d2})
					}
				}
			}
		}
		return out
	}()
)

// flood visits every voxel reachable from seeds inside window. Seeds are
// always emitted; neighbours are followed only when accept returns true.
func (g grid) flood(window box, connectivity int, seeds []int, accept func(i int) bool, emit func(i int)) {
	offsets := faceOffsets
	if connectivity == 26 {
		offsets = fullOffsets
	}

	visited := make([]bool, window.size())
	queue := make([]int, 0, len(seeds))

	for _, s := range seeds {
		c := g.coord(s)
		if !window.contains(c) || visited[window.local(c)] {
			continue
		}
		visited[window.local(c)] = true
		queue = append(queue, s)
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		emit(i)

		c := g.coord(i)
		for _, off := range offsets {
			n := [3]int{c[0] + off[0], c[1] + off[1], c[2] + off[2]}
			if !window.contains(n) {
				continue
			}
			l := window.local(n)
			if visited[l] {
				continue
			}
			visited[l] = true
			if ni := g.index(n); accept(ni) {
				queue = append(queue, ni)
			}
		}
	}
}

// fillContours treats mask as closed contours drawn in planes normal to the
// axis along which the mask is thinnest. Every voxel on or enclosed by a
// contour is emitted.
func (g grid) fillContours(mask []uint8, emit func(i int)) {
	_, coords := g.nonzero(mask)
	if len(coords) == 0 {
		return
	}
	bounds := g.window(coords, 0)

	axis := 0
	for a := 1; a < 3; a++ {
		if bounds.extent(a) < bounds.extent(axis) {
			axis = a
		}
	}
	p, q := (axis+1)%3, (axis+2)%3
	if p > q {
		p, q = q, p
	}

	width, height := bounds.extent(p), bounds.extent(q)
	outside := make([]bool, width*height)

	at := func(s, u, v int) int {
		var c [3]int
		c[axis], c[p], c[q] = s, u, v
		return g.index(c)
	}

	for s := bounds.lo[axis]; s <= bounds.hi[axis]; s++ {
		clear(outside)

		drawn := false
		var queue [][2]int
		push := func(u, v int) {
			l := (u-bounds.lo[p])*height + (v - bounds.lo[q])
			if outside[l] || mask[at(s, u, v)] != 0 {
				return
			}
			outside[l] = true
			queue = append(queue, [2]int{u, v})
		}

		for u := bounds.lo[p]; u <= bounds.hi[p]; u++ {
			for v := bounds.lo[q]; v <= bounds.hi[q]; v++ {
				if mask[at(s, u, v)] != 0 {
					drawn = true
				}
				if u == bounds.lo[p] || u == bounds.hi[p] || v == bounds.lo[q] || v == bounds.hi[q] {
					push(u, v)
				}
			}
		}
		if !drawn {
			continue
		}

		for len(queue) > 0 {
			uv := queue[0]
			queue = queue[1:]
			u, v := uv[0], uv[1]
			if u > bounds.lo[p] {
				push(u-1, v)
			}
			if u < bounds.hi[p] {
				push(u+1, v)
			}
			if v > bounds.lo[q] {
				push(u, v-1)
			}
			if v < bounds.hi[q] {
				push(u, v+1)
			}
		}

		for u := bounds.lo[p]; u <= bounds.hi[p]; u++ {
			for v := bounds.lo[q]; v <= bounds.hi[q]; v++ {
				if !outside[(u-bounds.lo[p])*height+(v-bounds.lo[q])] {
					emit(at(s, u, v))
				}
			}
		}
	}
}
