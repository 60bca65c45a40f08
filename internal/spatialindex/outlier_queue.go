package spatialindex

// outlierQueue is a max-heap of kmeans points ordered by distance from their
// current cluster center, used to re-seed empty clusters from the farthest
// outlier. reseedEmptyCluster rebuilds it from all points on every call.
type outlierItem struct {
	point    *kmeansPoint
	distance float64
}

type outlierQueue []*outlierItem

func (q outlierQueue) Len() int { return len(q) }

func (q outlierQueue) Less(i, j int) bool { return q[i].distance > q[j].distance }

func (q outlierQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *outlierQueue) Push(x any) {
	*q = append(*q, x.(*outlierItem))
}

func (q *outlierQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
