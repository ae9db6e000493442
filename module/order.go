package module

// order sorts mods so that every module comes after the members of mods it
// depends on. Among modules that are ready at the same time the one
// registered first wins. Dependencies outside mods add no edge; the driver
// treats them as unsatisfied.
//
// Modules that cannot be ordered are returned in blocked, in input order.
// cyclic holds the blocked modules that sit on a cycle, as opposed to those
// only depending on one.
func order(mods []Module) (sorted, blocked []Module, cyclic map[string]bool) {
	index := make(map[string]int, len(mods))
	for i, m := range mods {
		index[m.Name()] = i
	}

	indegree := make([]int, len(mods))
	dependents := make([][]int, len(mods))
	for i, m := range mods {
		for _, dep := range m.Dependencies() {
			j, ok := index[dep]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(mods))
	for {
		next := -1
		for i := range mods {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		sorted = append(sorted, mods[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}

	// Peel blocked modules that nothing blocked depends on. What remains
	// lies on or between cycles.
	remaining := make(map[int]bool)
	for i := range mods {
		if !done[i] {
			remaining[i] = true
			blocked = append(blocked, mods[i])
		}
	}
	for changed := true; changed; {
		changed = false
		for i := range remaining {
			held := false
			for _, d := range dependents[i] {
				if remaining[d] {
					held = true
					break
				}
			}
			if !held {
				delete(remaining, i)
				changed = true
			}
		}
	}

	cyclic = make(map[string]bool, len(remaining))
	for i := range remaining {
		cyclic[mods[i].Name()] = true
	}
	return sorted, blocked, cyclic
}
