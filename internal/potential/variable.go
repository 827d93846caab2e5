package potential

import "fmt"

// Missing marks an unobserved value in an evidence array.
const Missing = -1

// Variable is a discrete random variable.
//
// ID is the variable's index inside its model and is the only field used for
// identity and ordering. Two variables from different models must never be
// mixed in one potential.
type Variable struct {
	ID   int
	Name string
	Card int
}

// Valid reports whether state is a legal value of v.
func (v Variable) Valid(state int) bool {
	return state >= 0 && state < v.Card
}

func (v Variable) String() string {
	return fmt.Sprintf("%s(%d)", v.Name, v.Card)
}
