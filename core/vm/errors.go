package vm

import "errors"

// ErrTrap is returned when predicate execution faults: a bad memory
// access, a missing export, a wasm-level trap, or any other failure that
// isn't simply running out of instruction budget.
var ErrTrap = errors.New("vm: predicate execution trapped")

// ErrOutOfBudget is returned when a predicate consumes its entire
// instruction budget without returning.
var ErrOutOfBudget = errors.New("vm: predicate exceeded its instruction budget")
