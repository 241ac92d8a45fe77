package rerank

import "fmt"

// CountMismatchError means a scorer returned the wrong number of scores.
type CountMismatchError struct {
	Want int
	Got  int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("scorer returned %d scores for %d pairs", e.Got, e.Want)
}
