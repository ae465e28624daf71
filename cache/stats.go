package cache

// Stats contains namespace statistics.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Sets          uint64
	Evictions     uint64
	Expirations   uint64
	Invalidations uint64

	// Entries is the number of physically present entries.
	Entries int

	// Capacity is the namespace MaxEntries; zero means unbounded.
	Capacity int
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Utilization returns Entries / Capacity, or 0 for unbounded namespaces.
func (s Stats) Utilization() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.Entries) / float64(s.Capacity)
}
