package intake

import "time"

// SetClock replaces the service clock in external tests.
func SetClock(s *Service, now func() time.Time) { s.now = now }
