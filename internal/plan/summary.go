package plan

// StatusCounts tallies tasks by status.
type StatusCounts map[Status]int

// Total returns the number of tasks counted.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// CountTasks tallies the given tasks by status.
func CountTasks(tasks []*Task) StatusCounts {
	counts := make(StatusCounts)
	for _, t := range tasks {
		counts[t.Status()]++
	}
	return counts
}

// BlockingTasks returns tasks in stages prior to the given stage that
// would make starting it unsafe: anything not complete, or - when the
// document requires approval gates - anything not yet approved.
func (d *Document) BlockingTasks(ix *Index, stage Stage) []*Task {
	var blocking []*Task
	for _, prior := range d.Stages() {
		if prior == stage {
			break
		}
		for _, t := range ix.StageTasks(prior) {
			if d.RequireApproval {
				if t.Status() != StatusApproved {
					blocking = append(blocking, t)
				}
			} else if !t.Status().Complete() {
				blocking = append(blocking, t)
			}
		}
	}
	return blocking
}
