package turns

import "fmt"

// CycleCapError marks a turn that hit its tool-cycle bound with the model
// still asking for tools. It never got to a final answer, so the turn fails
// deterministically.
type CycleCapError struct {
	Turn string
	Cap  int
}

func (e *CycleCapError) Error() string {
	return fmt.Sprintf("turn %s: tool cycle cap of %d reached without a final answer", e.Turn, e.Cap)
}
