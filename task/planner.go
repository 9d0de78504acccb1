package task

import "github.com/mastercactapus/pickplace/coord"

// PlanRoute orders pending tasks greedily: starting at start, it repeatedly
// picks the task whose source is nearest the cursor, then moves the cursor to
// that task's destination. Ties go to the task earlier in pending.
//
// This is the nearest-neighbour heuristic. It visits every task exactly once
// but does not minimize total travel.
func PlanRoute(pending []Task, start coord.Point) Plan {
	remaining := append([]Task(nil), pending...)
	plan := Plan{Cursor: start, Tasks: make([]Task, 0, len(pending))}

	cur := start
	for len(remaining) > 0 {
		best := 0
		bestDist := cur.DistanceXY(remaining[0].Source)
		for i := 1; i < len(remaining); i++ {
			if d := cur.DistanceXY(remaining[i].Source); d < bestDist {
				best, bestDist = i, d
			}
		}

		t := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)
		plan.Tasks = append(plan.Tasks, t)
		cur = t.Destination
	}
	return plan
}
