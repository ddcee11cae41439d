package aggregator

import "github.com/orchestra-mcp/pulse/src/types"

// DefaultCapacity is the number of points retained per entity.
const DefaultCapacity = 120

// series is a fixed-size circular buffer of points in insertion order.
type series struct {
	data  []types.Point
	head  int
	count int
}

func newSeries(size int) *series {
	if size <= 0 {
		size = DefaultCapacity
	}
	return &series{data: make([]types.Point, size)}
}

// push adds a point, evicting the oldest when full.
func (s *series) push(p types.Point) {
	s.data[s.head] = p
	s.head = (s.head + 1) % len(s.data)
	if s.count < len(s.data) {
		s.count++
	}
}

// points returns the buffered points, oldest first.
func (s *series) points() []types.Point {
	out := make([]types.Point, s.count)
	start := (s.head - s.count + len(s.data)) % len(s.data)
	for i := 0; i < s.count; i++ {
		out[i] = s.data[(start+i)%len(s.data)]
	}
	return out
}

func (s *series) len() int { return s.count }
