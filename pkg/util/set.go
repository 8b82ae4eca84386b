package util

// Set is an unordered collection of unique comparable values
type Set[T comparable] map[T]struct{}

// SetOf builds a Set holding the given values
func SetOf[T comparable](values ...T) Set[T] {
	res := make(Set[T], len(values))
	for _, v := range values {
		res[v] = struct{}{}
	}
	return res
}

// Add inserts a value into the set
func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

// Remove deletes a value from the set
func (s Set[T]) Remove(v T) {
	delete(s, v)
}

// Contains reports whether the value is in the set
func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}
