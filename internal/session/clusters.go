package session

import "time"

// DefaultClusterWindow is the maximum inter-arrival gap between failures
// grouped into one cluster.
const DefaultClusterWindow = 5 * time.Second

// Cluster is a burst of consecutive failures close together in time.
type Cluster struct {
	// Actions are the clustered failures in chronological order.
	Actions []Action

	// Start and End bound the cluster in time.
	Start time.Time
	End   time.Time
}

// Size returns the number of failures in the cluster.
func (c Cluster) Size() int {
	return len(c.Actions)
}

// ClusterReport summarizes failure bursts in the buffer.
type ClusterReport struct {
	// Clusters holds bursts of size >= 2, chronological.
	Clusters []Cluster

	// TotalClusters is len(Clusters).
	TotalClusters int

	// MaxClusterSize is the size of the largest cluster, 0 when none.
	MaxClusterSize int

	// AverageClusterSize is the mean cluster size, 0 when none.
	AverageClusterSize float64
}

// ErrorClusters walks the chronological failed actions and groups runs
// whose inter-arrival gap is at most window. Isolated failures are not
// reported. A non-positive window uses DefaultClusterWindow.
func (h *History) ErrorClusters(window time.Duration) ClusterReport {
	if window <= 0 {
		window = DefaultClusterWindow
	}

	var failures []Action
	for _, a := range h.All() {
		if !a.Success {
			failures = append(failures, a)
		}
	}

	var (
		clusters []Cluster
		run      []Action
	)
	flush := func() {
		if len(run) >= 2 {
			clusters = append(clusters, Cluster{
				Actions: run,
				Start:   run[0].Timestamp,
				End:     run[len(run)-1].Timestamp,
			})
		}
		run = nil
	}

	for i, f := range failures {
		if i > 0 && f.Timestamp.Sub(failures[i-1].Timestamp) > window {
			flush()
		}
		run = append(run, f)
	}
	flush()

	report := ClusterReport{Clusters: clusters, TotalClusters: len(clusters)}
	if len(clusters) == 0 {
		return report
	}

	total := 0
	for _, c := range clusters {
		if c.Size() > report.MaxClusterSize {
			report.MaxClusterSize = c.Size()
		}
		total += c.Size()
	}
	report.AverageClusterSize = float64(total) / float64(len(clusters))
	return report
}
