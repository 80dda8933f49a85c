// Package vm sandboxes predicate bytecode execution behind wasmer: every
// predicate is compiled once, cached, and invoked through a narrow ABI
// (allocate a buffer, ingest context and parameters into opaque handles,
// call the named entrypoint with those handles, read back a boolean) so a
// misbehaving or malicious predicate can neither escape the sandbox nor run
// unbounded.
package vm

import (
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"intent-chain/core"
)

// DefaultFuelBudget bounds how many units of instruction budget a single
// predicate evaluation gets before it traps with ErrOutOfBudget.
const DefaultFuelBudget = 10_000_000

// DefaultEntrypoint is the export name a predicate is invoked at when its
// expanded code carries none of its own (inline code always expands this
// way; an account-ref's entrypoint comes from the reference instead).
const DefaultEntrypoint = "predicate"

// VM sandboxes and evaluates predicate bytecode. A VM is safe for
// concurrent use; each Evaluate call gets its own wasmer store and budget
// so concurrent predicate evaluations (as the scheduler runs them) cannot
// interfere with each other's instruction budgets.
type VM struct {
	engine     *wasmer.Engine
	cache      *ModuleCache
	fuelBudget uint64
}

// New builds a VM whose compiled-module cache persists under cacheDir (pass
// "" to keep modules in-memory only, e.g. in tests).
func New(cacheDir string, fuelBudget uint64) (*VM, error) {
	if fuelBudget == 0 {
		fuelBudget = DefaultFuelBudget
	}
	engine := wasmer.NewEngine()
	cache, err := NewModuleCache(wasmer.NewStore(engine), cacheDir)
	if err != nil {
		return nil, err
	}
	return &VM{engine: engine, cache: cache, fuelBudget: fuelBudget}, nil
}

// Evaluate runs pred's code at pred's entrypoint against context, with
// pred's already-resolved parameters serialized and passed alongside it.
// view backs syscall_read_account, the one dynamic lookup the predicate ABI
// grants a running predicate; it may be nil for callers that never expect a
// predicate to make that syscall. Evaluate returns the boolean the
// entrypoint computed, or an error distinguishing a hard VM trap (ErrTrap)
// from an exhausted instruction budget (ErrOutOfBudget).
func (vm *VM) Evaluate(pred core.ExpandedPredicate, context []byte, view core.State) (bool, error) {
	if len(pred.Code.Code) == 0 {
		return false, fmt.Errorf("vm: %w", ErrTrap)
	}

	store := wasmer.NewStore(vm.engine)
	module, err := vm.cache.Load(pred.Code.Code)
	if err != nil {
		return false, fmt.Errorf("vm: compile: %w", err)
	}

	h := &hostCtx{budget: &budget{remaining: vm.fuelBudget}, view: view}
	imports := registerHost(store, h)

	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return false, fmt.Errorf("vm: %w: %v", ErrTrap, err)
	}
	defer instance.Close()

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return false, fmt.Errorf("vm: %w: missing memory export: %v", ErrTrap, err)
	}
	allocate, err := instance.Exports.GetFunction("__allocate")
	if err != nil {
		return false, fmt.Errorf("vm: %w: missing __allocate export: %v", ErrTrap, err)
	}
	h.mem, h.allocate = mem, allocate

	entrypoint := pred.Code.Entrypoint
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}

	paramsBlob, err := encodeParams(pred.Params)
	if err != nil {
		return false, fmt.Errorf("vm: encode params: %w", err)
	}

	result, err := vm.call(instance, h, entrypoint, context, paramsBlob)
	if err != nil {
		if errors.Is(err, errOutOfBudget) {
			return false, fmt.Errorf("vm: %w", ErrOutOfBudget)
		}
		return false, fmt.Errorf("vm: %w: %v", ErrTrap, err)
	}
	return result, nil
}

// call implements the guest ABI's ingest protocol: allocate and copy in the
// context and params buffers, ingest each into an opaque handle via
// __ingest_context/__ingest_params, then invoke the entrypoint with exactly
// those two handles.
func (vm *VM) call(instance *wasmer.Instance, h *hostCtx, entrypoint string, context, params []byte) (bool, error) {
	ingestContext, err := instance.Exports.GetFunction("__ingest_context")
	if err != nil {
		return false, err
	}
	ingestParams, err := instance.Exports.GetFunction("__ingest_params")
	if err != nil {
		return false, err
	}
	fn, err := instance.Exports.GetFunction(entrypoint)
	if err != nil {
		return false, err
	}

	ctxPtr, err := h.write(context)
	if err != nil {
		return false, err
	}
	ctxHandleRaw, err := ingestContext(ctxPtr, int32(len(context)))
	if err != nil {
		return false, err
	}
	ctxHandle, ok := ctxHandleRaw.(int32)
	if !ok {
		return false, errors.New("vm: __ingest_context did not return an i32 handle")
	}

	paramsPtr, err := h.write(params)
	if err != nil {
		return false, err
	}
	paramsHandleRaw, err := ingestParams(paramsPtr, int32(len(params)))
	if err != nil {
		return false, err
	}
	paramsHandle, ok := paramsHandleRaw.(int32)
	if !ok {
		return false, errors.New("vm: __ingest_params did not return an i32 handle")
	}

	out, err := fn(ctxHandle, paramsHandle)
	if err != nil {
		return false, err
	}
	verdict, ok := out.(int32)
	if !ok {
		return false, errors.New("vm: entrypoint did not return an i32 boolean")
	}
	return verdict != 0, nil
}
