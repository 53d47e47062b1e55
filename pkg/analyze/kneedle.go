// Package analyze finds transitions in the bandwidth history of a run.
package analyze

import (
	"sort"
)

type Point struct {
	X float64
	Y float64
}

// FindKnee implements the Kneedle algorithm to find the point of maximum
// curvature. It assumes the curve is concave: increasing but flattening out,
// like cumulative bytes written once a drive's write cache is exhausted.
func FindKnee(points []Point) Point {
	if len(points) < 3 {
		if len(points) > 0 {
			return points[len(points)-1]
		}
		return Point{}
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].X < points[j].X
	})

	minX, maxX := points[0].X, points[len(points)-1].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points {
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	if maxX == minX || maxY == minY {
		return points[len(points)-1]
	}

	// Distance above the diagonal joining the normalized end points.
	maxDist := -1.0
	var knee Point
	for _, p := range points {
		xNorm := (p.X - minX) / (maxX - minX)
		yNorm := (p.Y - minY) / (maxY - minY)
		if dist := yNorm - xNorm; dist > maxDist {
			maxDist = dist
			knee = p
		}
	}
	return knee
}

// leastSquares performs simple linear regression on points.
func leastSquares(points []Point) (m, c float64) {
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(points))
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
		sumXY += p.X * p.Y
		sumXX += p.X * p.X
	}
	d := n*sumXX - sumX*sumX
	if d == 0 {
		return 0, sumY / n
	}
	m = (n*sumXY - sumX*sumY) / d
	c = (sumY - m*sumX) / n
	return m, c
}
