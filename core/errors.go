package core

import "errors"

// Packaging errors: returned while resolving a symbolic transaction's
// references against state (core/packager) or applying a resolved account
// change (AccountChange.Apply).
var (
	ErrAccountAlreadyExists = errors.New("core: account already exists")
	ErrAccountDoesNotExist  = errors.New("core: account does not exist")
	ErrCodeDoesNotExist     = errors.New("core: referenced code does not exist")
	ErrAccountRefDoesNotExist = errors.New("core: account reference does not exist")
	ErrProposalDoesNotExist = errors.New("core: proposal reference does not exist")
	ErrCalldataNotFound     = errors.New("core: calldata key not found")
)

// Block lineage errors: returned by BlockStateBuilder.Consume.
var (
	ErrInvalidBlockParent = errors.New("core: block parent does not match the chain tip")
	ErrInvalidBlockHeight = errors.New("core: block height is not the chain tip height plus one")
	ErrNoInitialBlocks    = errors.New("core: block state builder has no blocks yet")
)

// Evaluation errors: returned by the evaluator when a transaction's
// predicates reject it, or the VM cannot finish executing it.
var (
	ErrPredicateRejected = errors.New("core: predicate tree evaluated to false")
	ErrVMTrap            = errors.New("core: predicate execution trapped")
	ErrVMOutOfFuel       = errors.New("core: predicate execution exceeded its instruction budget")
)
