package task

import (
	"sort"

	"github.com/mastercactapus/pickplace/coord"
	"github.com/mastercactapus/pickplace/fault"
)

// Layout is what the vision side hands over once per job. Every matrix is
// indexed [row][col] and holds piece ids.
type Layout struct {
	// Grid is the solved arrangement; its ids are the pieces to place.
	Grid [][]int `json:"grid"`
	// Initial is where each piece is now.
	Initial [][]int `json:"initial"`
	// Destination is where each piece belongs.
	Destination [][]int `json:"destination"`
	// Rotation holds the turn each piece needs, indexed by its initial cell.
	Rotation [][]int `json:"rotation"`
	// Order optionally fixes which pieces to move, and in what order.
	Order []int `json:"order,omitempty"`
}

func find(m [][]int, id int) (coord.Point, bool) {
	for row := range m {
		for col, v := range m[row] {
			if v == id {
				return coord.Point{X: float64(col), Y: float64(row)}, true
			}
		}
	}
	return coord.Point{}, false
}

func (l Layout) ids() []int {
	if len(l.Order) > 0 {
		return l.Order
	}
	seen := make(map[int]bool)
	var ids []int
	for _, row := range l.Grid {
		for _, id := range row {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Ints(ids)
	return ids
}

// FromLayout returns one task per piece that is not already in place, with
// positions in grid cells (X is the column, Y the row). Every requested piece
// must have an initial and a destination cell; otherwise nothing is returned.
func FromLayout(l Layout) ([]Task, error) {
	var missing []int
	var tasks []Task
	for _, id := range l.ids() {
		src, okSrc := find(l.Initial, id)
		dst, okDst := find(l.Destination, id)
		if !okSrc || !okDst {
			missing = append(missing, id)
			continue
		}
		if src == dst {
			continue
		}
		var rot int
		row, col := int(src.Y), int(src.X)
		if row < len(l.Rotation) && col < len(l.Rotation[row]) {
			rot = l.Rotation[row][col]
		}
		tasks = append(tasks, New(id, src, dst, float64(rot)))
	}
	if len(missing) > 0 {
		return nil, fault.Errorf(fault.PlanValidation, "position missing for pieces %v", missing)
	}
	return tasks, nil
}
