package memory

// Counters returns how many day counters s holds.
func (s *CooldownStore) Counters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts)
}
