package domain

import "sort"

// CollapsedSessionTasks are the net membership intents of a batch.
// The three sets are disjoint.
type CollapsedSessionTasks struct {
	Add    []PeerState
	Update []PeerState
	Remove []PeerID
}

// CollapseSessionTasks reduces raw peer events into net add, update and remove sets.
// A remove wins over everything else for the same peer, a role change of a peer added in the
// same batch is folded into its add, and the last role change seen for a peer wins.
func CollapseSessionTasks(tasks []SessionTask) CollapsedSessionTasks {
	removed := make(map[PeerID]bool)
	added := make(map[PeerID]Role)
	roles := make(map[PeerID]Role)
	for _, t := range tasks {
		switch t.Type {
		case SessionRemove:
			removed[t.Pid] = true
		case SessionAdd:
			added[t.Pid] = t.Role
		case SessionRoleChange:
			roles[t.Pid] = t.Role
		}
	}

	var res CollapsedSessionTasks
	for pid := range removed {
		res.Remove = append(res.Remove, pid)
	}
	for pid, role := range added {
		if removed[pid] {
			continue
		}
		if r, ok := roles[pid]; ok {
			role = r
		}
		res.Add = append(res.Add, StateForRole(pid, role))
	}
	for pid, role := range roles {
		if removed[pid] {
			continue
		}
		if _, ok := added[pid]; ok {
			continue
		}
		res.Update = append(res.Update, StateForRole(pid, role))
	}

	sort.Slice(res.Remove, func(i, j int) bool { return res.Remove[i] < res.Remove[j] })
	sort.Slice(res.Add, func(i, j int) bool { return res.Add[i].Pid < res.Add[j].Pid })
	sort.Slice(res.Update, func(i, j int) bool { return res.Update[i].Pid < res.Update[j].Pid })
	return res
}
