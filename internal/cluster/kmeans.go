// Package cluster groups subregions by greenness.
package cluster

import (
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const defaultMaxIter = 100

// ChooseK returns clamp(n/3, 2, 3), or 0 when n < 3 and clustering is skipped.
func ChooseK(n int) int {
	if n < 3 {
		return 0
	}
	return min(max(n/3, 2), 3)
}

// Standardize returns a z-scored copy of the feature matrix. Constant
// columns become zero.
func Standardize(points [][]float64) [][]float64 {
	if len(points) == 0 {
		return nil
	}
	dim := len(points[0])
	out := make([][]float64, len(points))
	for i := range out {
		out[i] = make([]float64, dim)
	}
	col := make([]float64, len(points))
	for j := 0; j < dim; j++ {
		for i, p := range points {
			col[i] = p[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || len(points) < 2 {
			std = 1
		}
		for i, p := range points {
			out[i][j] = (p[j] - mean) / std
		}
	}
	return out
}

// KMeans partitions points into at most k clusters with Lloyd's algorithm.
// Seeding is farthest-point: the point with the smallest first feature, then
// repeatedly the point farthest from every chosen seed, so the result depends
// only on the input order and values. A cluster left empty takes over the
// point farthest from its centroid. Labels are numbered by ascending mean of
// the first feature; fewer than k clusters come back only when the points
// have fewer than k distinct values.
func KMeans(points [][]float64, k int) ([]int, error) {
	n := len(points)
	if k < 1 {
		return nil, eris.Errorf("cluster: k must be positive, got %d", k)
	}
	if n < k {
		return nil, eris.Errorf("cluster: %d points cannot form %d clusters", n, k)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, eris.Errorf("cluster: point %d has %d features, want %d", i, len(p), dim)
		}
	}

	centroids := seed(points, k)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < defaultMaxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestD := 0, floats.Distance(p, centroids[0], 2)
			for c := 1; c < k; c++ {
				if d := floats.Distance(p, centroids[c], 2); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if reseedEmpty(points, centroids, labels) {
			changed = true
		}
		if !changed {
			break
		}
		for c := 0; c < k; c++ {
			var members int
			sum := make([]float64, dim)
			for i, p := range points {
				if labels[i] == c {
					floats.Add(sum, p)
					members++
				}
			}
			if members > 0 {
				floats.Scale(1/float64(members), sum)
				centroids[c] = sum
			}
		}
	}
	return renumber(points, labels, k), nil
}

// Clusters returns the number of clusters in renumbered labels.
func Clusters(labels []int) int {
	n := 0
	for _, l := range labels {
		n = max(n, l+1)
	}
	return n
}

func seed(points [][]float64, k int) [][]float64 {
	first := 0
	for i, p := range points {
		if p[0] < points[first][0] {
			first = i
		}
	}
	centroids := [][]float64{append([]float64(nil), points[first]...)}

	// nearest[i] is the distance from point i to its closest seed.
	nearest := make([]float64, len(points))
	for i, p := range points {
		nearest[i] = floats.Distance(p, centroids[0], 2)
	}
	for len(centroids) < k {
		far := 0
		for i := range points {
			if nearest[i] > nearest[far] {
				far = i
			}
		}
		c := append([]float64(nil), points[far]...)
		centroids = append(centroids, c)
		for i, p := range points {
			nearest[i] = min(nearest[i], floats.Distance(p, c, 2))
		}
	}
	return centroids
}

// reseedEmpty hands every empty cluster the point farthest from its own
// centroid, taken from a cluster with at least two members. It reports
// whether any label moved.
func reseedEmpty(points, centroids [][]float64, labels []int) bool {
	sizes := make([]int, len(centroids))
	for _, l := range labels {
		sizes[l]++
	}
	moved := false
	for c := range centroids {
		if sizes[c] > 0 {
			continue
		}
		far, farD := -1, 0.0
		for i, p := range points {
			if sizes[labels[i]] < 2 {
				continue
			}
			if d := floats.Distance(p, centroids[labels[i]], 2); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			// Every remaining point sits on its centroid.
			break
		}
		sizes[labels[far]]--
		labels[far] = c
		sizes[c] = 1
		centroids[c] = append([]float64(nil), points[far]...)
		moved = true
	}
	return moved
}

// renumber orders clusters by the mean of the first feature and compacts
// away empty clusters.
func renumber(points [][]float64, labels []int, k int) []int {
	type group struct {
		id   int
		mean float64
		size int
	}
	groups := make([]group, k)
	for c := range groups {
		groups[c].id = c
	}
	for i, l := range labels {
		groups[l].mean += points[i][0]
		groups[l].size++
	}
	var used []group
	for _, g := range groups {
		if g.size > 0 {
			g.mean /= float64(g.size)
			used = append(used, g)
		}
	}
	sort.SliceStable(used, func(a, b int) bool { return used[a].mean < used[b].mean })

	remap := make(map[int]int, len(used))
	for rank, g := range used {
		remap[g.id] = rank
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = remap[l]
	}
	return out
}
