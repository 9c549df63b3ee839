package tot

// ─── BFS ───

func (s *Strategy) bfs(sr *search) {
	queue := []int{root}
	for len(queue) > 0 && !sr.stopped() {
		id := queue[0]
		queue = queue[1:]
		if !sr.expandable(id) {
			continue
		}
		if sr.budget() <= 0 {
			sr.exhausted = true
			return
		}
		kids, terminal := s.attach(sr, id, s.expand(sr.ctx, sr, sr.request(id, sr.budget())))
		if terminal {
			return
		}
		queue = append(queue, kids...)
	}
}

// ─── DFS ───

func (s *Strategy) dfs(sr *search) {
	stack := []int{root}
	for len(stack) > 0 && !sr.stopped() {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !sr.expandable(id) {
			continue
		}
		if sr.budget() <= 0 {
			sr.exhausted = true
			return
		}
		kids, terminal := s.attach(sr, id, s.expand(sr.ctx, sr, sr.request(id, sr.budget())))
		if terminal {
			return
		}
		// first child on top
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
}

// ─── A* ───

// astar expands the best open node first; a terminal node ends the search
// when it is the best open node.
func (s *Strategy) astar(sr *search) {
	open := []int{root}
	for len(open) > 0 && !sr.stopped() {
		bi := 0
		for i := 1; i < len(open); i++ {
			if sr.t.better(open[i], open[bi]) {
				bi = i
			}
		}
		id := open[bi]
		open = append(open[:bi], open[bi+1:]...)
		if sr.t.nodes[id].terminal {
			return
		}
		if !sr.expandable(id) {
			continue
		}
		if sr.budget() <= 0 {
			sr.exhausted = true
			return
		}
		kids, _ := s.attach(sr, id, s.expand(sr.ctx, sr, sr.request(id, sr.budget())))
		open = append(open, kids...)
	}
}

// ─── Beam ───

func (s *Strategy) beam(sr *search) {
	frontier := []int{root}
	for !sr.stopped() {
		var ids []int
		for _, id := range frontier {
			if sr.expandable(id) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			if frontier = s.backtrack(sr); len(frontier) == 0 {
				return
			}
			continue
		}
		if sr.budget() <= 0 {
			sr.exhausted = true
			return
		}

		var next []int
		var terminal bool
		for i, ex := range s.expandAll(sr, ids) {
			kids, term := s.attach(sr, ids[i], ex)
			next = append(next, kids...)
			terminal = terminal || term
		}
		if terminal {
			return
		}
		sr.t.rank(next)
		if len(next) > sr.cfg.BeamWidth {
			s.keep(sr, next[sr.cfg.BeamWidth:])
			next = next[:sr.cfg.BeamWidth]
		}
		frontier = next
	}
}

// keep moves nodes pruned from the beam into the backtracking reserve,
// retaining the best ReserveSize of them.
func (s *Strategy) keep(sr *search, ids []int) {
	if !sr.cfg.EnableBacktracking {
		sr.pruned += len(ids)
		return
	}
	sr.reserve = append(sr.reserve, ids...)
	sr.t.rank(sr.reserve)
	if len(sr.reserve) > sr.cfg.ReserveSize {
		sr.pruned += len(sr.reserve) - sr.cfg.ReserveSize
		sr.reserve = sr.reserve[:sr.cfg.ReserveSize]
	}
}

// backtrack restarts a stalled beam from the best reserved nodes.
func (s *Strategy) backtrack(sr *search) []int {
	if !sr.cfg.EnableBacktracking {
		return nil
	}
	var frontier []int
	for len(sr.reserve) > 0 && len(frontier) < sr.cfg.BeamWidth {
		id := sr.reserve[0]
		sr.reserve = sr.reserve[1:]
		if sr.expandable(id) {
			frontier = append(frontier, id)
		}
	}
	sr.revisits += len(frontier)
	return frontier
}
