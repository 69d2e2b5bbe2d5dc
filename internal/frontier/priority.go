package frontier

import "github.com/deepharvest/crawler/internal/config"

// PriorityFor computes a record's queue priority for the configured
// strategy. BFS fixes priority at 0 so depth alone orders the queue;
// DFS uses depth itself so deeper URLs sort first; priority mode takes
// the caller-supplied classifier score as-is.
func PriorityFor(strategy config.Strategy, depth int, classifierScore float64) float64 {
	switch strategy {
	case config.StrategyDFS:
		return float64(depth)
	case config.StrategyPriority:
		return classifierScore
	default:
		return 0
	}
}
