package task

// TaskStats 汇总异步对话任务的状态分布，供 GET /api/tasks/stats 与 lenoctl 使用。
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Exhausted 是 Failed 中不会再重试的任务数。
	Exhausted       int   `json:"exhausted"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// observe 把一个任务计入统计。
func (s *TaskStats) observe(t *Task) {
	s.Total++
	switch t.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
		if t.Terminal() {
			s.Exhausted++
		}
	}
	if t.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = t.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || t.UpdatedAt < s.OldestUpdatedAt {
		s.OldestUpdatedAt = t.UpdatedAt
	}
}
