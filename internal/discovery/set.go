package discovery

import "github.com/muurk/discovery/internal/ssdp"

// ServiceSet is an insertion-ordered collection of records, unique by USN.
// The first record added for a USN is kept; later ones are ignored.
//
// ServiceSet is not safe for concurrent use. The Engine guards its set with
// its own lock.
type ServiceSet struct {
	records []ssdp.ServiceRecord
	index   map[string]int
}

// NewServiceSet returns an empty set
func NewServiceSet() *ServiceSet {
	return &ServiceSet{index: make(map[string]int)}
}

// Add inserts rec unless its USN is already present.
// It reports whether the record was new.
func (s *ServiceSet) Add(rec ssdp.ServiceRecord) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[rec.USN]; ok {
		return false
	}
	s.index[rec.USN] = len(s.records)
	s.records = append(s.records, rec)
	return true
}

// Contains reports whether a record with usn is present
func (s *ServiceSet) Contains(usn string) bool {
	_, ok := s.index[usn]
	return ok
}

// Len returns the number of records
func (s *ServiceSet) Len() int {
	return len(s.records)
}

// Snapshot returns a copy of the records in insertion order
func (s *ServiceSet) Snapshot() []ssdp.ServiceRecord {
	out := make([]ssdp.ServiceRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Reset removes every record
func (s *ServiceSet) Reset() {
	s.records = nil
	s.index = make(map[string]int)
}
