package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"intent-chain/core"
)

// budget is a per-evaluation instruction allowance. wasmer-go's v1 API has
// no native fuel metering, so the compiled predicate bytecode is expected
// to call host_consume_gas periodically (the bytecode compiler this module
// assumes is external is responsible for inserting those calls); the host
// function here traps the moment the allowance runs out, which is the same
// "deterministic, can't be starved, can't run forever" guarantee real fuel
// metering would give.
type budget struct {
	remaining uint64
}

var errOutOfBudget = errors.New("vm: predicate exceeded its instruction budget")
var errTerminated = errors.New("vm: predicate terminated itself via syscall_terminate")

func (b *budget) consume(amount uint64) error {
	if amount > b.remaining {
		b.remaining = 0
		return errOutOfBudget
	}
	b.remaining -= amount
	return nil
}

// hostCtx is the state every host import closes over. mem and allocate are
// nil at registration time (the module isn't instantiated yet) and filled
// in by the caller right after instantiation; the closures only read them
// once the guest actually calls in, by which point both are set.
type hostCtx struct {
	budget   *budget
	view     core.State
	mem      *wasmer.Memory
	allocate *wasmer.Function
}

func (h *hostCtx) read(ptr, length int32) ([]byte, error) {
	data := h.mem.Data()
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil, errors.New("vm: out-of-bounds guest memory access")
	}
	out := make([]byte, length)
	copy(out, data[ptr:int(ptr)+int(length)])
	return out, nil
}

// write allocates len(data) guest bytes via __allocate and copies data into
// them, returning the pointer the guest can read it back from.
func (h *hostCtx) write(data []byte) (int32, error) {
	raw, err := h.allocate(int32(len(data)))
	if err != nil {
		return 0, err
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0, errors.New("vm: __allocate did not return an i32 pointer")
	}
	view := h.mem.Data()
	if int(ptr)+len(data) > len(view) {
		return 0, errors.New("vm: __allocate returned an out-of-bounds pointer")
	}
	copy(view[ptr:], data)
	return ptr, nil
}

// registerHost builds the "env" import namespace every predicate module is
// instantiated with: host_consume_gas meters fuel, syscall_read_account
// and syscall_terminate give a predicate the dynamic lookups and
// self-abort PredicateContext promises.
func registerHost(store *wasmer.Store, h *hostCtx) *wasmer.ImportObject {
	consumeGas := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I64),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			amount := args[0].I64()
			if err := h.budget.consume(uint64(amount)); err != nil {
				return nil, err
			}
			return []wasmer.Value{}, nil
		},
	)

	// syscall_read_account(addrPtr, addrLen) -> ptr to a [4-byte LE
	// length][state bytes] buffer, or 0 if the account does not exist.
	readAccount := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32, wasmer.I32),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, length := args[0].I32(), args[1].I32()
			if length != core.AddressSize {
				return nil, fmt.Errorf("vm: syscall_read_account: address must be %d bytes, got %d", core.AddressSize, length)
			}
			raw, err := h.read(ptr, length)
			if err != nil {
				return nil, err
			}
			var id [core.AddressSize]byte
			copy(id[:], raw)

			if h.view == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			acc, err := h.view.Get(core.AddressFromBytes(id))
			if err != nil {
				return nil, fmt.Errorf("vm: syscall_read_account: %w", err)
			}
			if acc == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}

			encoded := make([]byte, 4+len(acc.State))
			binary.LittleEndian.PutUint32(encoded, uint32(len(acc.State)))
			copy(encoded[4:], acc.State)

			outPtr, err := h.write(encoded)
			if err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI32(outPtr)}, nil
		},
	)

	// syscall_terminate aborts evaluation immediately; the predicate is
	// rejected the same way any other trap rejects it.
	terminate := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return nil, errTerminated
		},
	)

	imports := wasmer.NewImportObject()
	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_gas":     consumeGas,
		"syscall_read_account": readAccount,
		"syscall_terminate":    terminate,
	})
	return imports
}
