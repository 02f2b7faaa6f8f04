package core

// wasm_executor.go – CCL WASM sandboxed execution: a wasmer.Engine/Store
// compiles the module, host functions are bound as wasmer.NewFunction
// closures under an "env" import object wired to the ICN host ABI, and
// execution is an in-process Execute call rather than a network service
// surface; MeshRuntime does not call Execute itself.
//
// The compiled-module cache is a bounded hashicorp/golang-lru/v2 keyed by
// module CID, sized to module_cache_size=100.

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// OptimizationLevel selects the compiler strategy for CCL modules.
type OptimizationLevel int

const (
	OptNone OptimizationLevel = iota
	OptSpeed
	OptSize
	OptBalanced
)

// ResourceLimits bounds a single execution.
type ResourceLimits struct {
	MaxExecutionTime time.Duration
	MaxMemoryPages uint32 // wasm pages (64KiB each); 64MiB ≈ 1024 pages
	MaxInstructions uint64
	ModuleCacheSize int
	Optimization OptimizationLevel
}

// DefaultResourceLimits returns the defaults: 30s execution time,
// 64MiB memory, 10,000,000 instructions, a 100-entry module cache.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxExecutionTime: 30 * time.Second,
		MaxMemoryPages: 1024,
		MaxInstructions: 10_000_000,
		ModuleCacheSize: 100,
	}
}

// ExecutionOutcome is the result of running a CCL module. ManaConsumed is
// the amount debited from the caller after a clean return (0 otherwise).
type ExecutionOutcome struct {
	Success bool
	ResultCode int32
	ReturnData []byte
	ExecutionTime time.Duration
	MemoryPagesUsed uint32
	InstructionsExecuted uint64
	ManaConsumed uint64
	Error string
}

// instructionMeter is a coarse proxy for the max_instructions bound.
// wasmer-go exposes no instruction-level metering hook, so every host ABI
// call counts as one metered unit (the place CCL code can do observable
// work); this undercounts pure-compute loops but bounds every module to a
// finite number of host interactions, which is what the mesh runtime
// actually needs to police.
type instructionMeter struct {
	mu sync.Mutex
	used uint64
	limit uint64
}

func (m *instructionMeter) consume(n uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used+n > m.limit {
		return fmt.Errorf("%w: instruction budget exceeded (%d/%d)", ErrInternal, m.used+n, m.limit)
	}
	m.used += n
	return nil
}

// hostExecCtx is the per-call binding handed to every host import, the
// HeavyVM hostCtx generalized from a single ledger handle to the full
// runtime wiring an ICN host ABI needs.
//
// consume_mana does not call into the ledger directly: it only records the
// requested amount in pendingMana, checked against the caller's real
// balance minus whatever is already pending so a guest can't overspend
// across several calls in one execution. The ledger is only actually
// debited by flushMana, called once by Execute after a clean return, so a
// module that exceeds its resource bounds after calling consume_mana
// leaves the ledger untouched.
type hostExecCtx struct {
	mem *wasmer.Memory
	caller DID
	meter *instructionMeter
	host *HostABI
	outcome *ExecutionOutcome

	mu sync.Mutex
	pendingMana uint64
	memoryExceeded bool
}

// availableMana returns the caller's real ledger balance minus whatever
// this execution has already queued to spend, the figure consume_mana and
// get_available_mana both reason from without touching the ledger.
func (h *hostExecCtx) availableMana() uint64 {
	bal, err := h.host.GetAvailableMana(h.caller)
	if err != nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return saturatingSub(bal, h.pendingMana)
}

// queueMana records amount as pending spend if the caller's effective
// balance covers it, without touching the ledger. Returns false if it
// would overdraw.
func (h *hostExecCtx) queueMana(amount uint64) bool {
	if h.availableMana() < amount {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingMana += amount
	return true
}

// flushMana commits whatever mana this execution queued via consume_mana,
// called only once Execute has confirmed a clean return (no trap, no
// timeout, no resource-bound breach). Returns the amount actually
// debited; a ledger-side failure (e.g. a concurrent spend drained the
// account in the meantime) commits nothing and is reported to the caller.
func (h *hostExecCtx) flushMana() (uint64, error) {
	h.mu.Lock()
	amount := h.pendingMana
	h.mu.Unlock()
	if amount == 0 {
		return 0, nil
	}
	if err := h.host.ConsumeMana(h.caller, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// checkMemory reports whether the guest's exported memory (if any) is
// still within MaxMemoryPages, latching memoryExceeded once tripped so a
// breach detected mid-execution is not forgotten by the time the call
// returns.
func (h *hostExecCtx) checkMemory(maxPages uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.memoryExceeded {
		return true
	}
	if h.mem != nil && uint32(h.mem.Size()) > maxPages {
		h.memoryExceeded = true
	}
	return h.memoryExceeded
}

// WasmExecutor runs CCL WASM modules under bounded resources, caching
// compiled modules by CID.
type WasmExecutor struct {
	engine *wasmer.Engine
	cache *lru.Cache[string, *wasmer.Module]
	limits ResourceLimits
	logger Logger
}

// NewWasmExecutor constructs an executor with the given limits (zero
// value fields fall back to DefaultResourceLimits). The HostABI is passed
// to each Execute call.
func NewWasmExecutor(limits ResourceLimits, logger Logger) (*WasmExecutor, error) {
	d := DefaultResourceLimits()
	if limits.MaxExecutionTime == 0 {
		limits.MaxExecutionTime = d.MaxExecutionTime
	}
	if limits.MaxMemoryPages == 0 {
		limits.MaxMemoryPages = d.MaxMemoryPages
	}
	if limits.MaxInstructions == 0 {
		limits.MaxInstructions = d.MaxInstructions
	}
	if limits.ModuleCacheSize == 0 {
		limits.ModuleCacheSize = d.ModuleCacheSize
	}
	if logger == nil {
		logger = NopLogger{}
	}
	cache, err := lru.New[string, *wasmer.Module](limits.ModuleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return &WasmExecutor{engine: engineFor(limits.Optimization), cache: cache, limits: limits, logger: logger}, nil
}

// engineFor maps an OptimizationLevel onto a wasmer compiler choice:
// OptNone and OptSize take the singlepass compiler (no optimization
// passes, smallest compile-time footprint); OptSpeed and OptBalanced take
// cranelift, the engine default.
func engineFor(level OptimizationLevel) *wasmer.Engine {
	cfg := wasmer.NewConfig()
	switch level {
	case OptNone, OptSize:
		cfg = cfg.UseSinglepassCompiler()
	default:
		cfg = cfg.UseCraneliftCompiler()
	}
	return wasmer.NewEngineWithConfig(cfg)
}

// compile returns a cached module for moduleCID, compiling and inserting
// it on a cache miss.
func (e *WasmExecutor) compile(moduleCID CID, wasmBytes []byte) (*wasmer.Module, error) {
	key := moduleCID.String()
	if m, ok := e.cache.Get(key); ok {
		return m, nil
	}
	store := wasmer.NewStore(e.engine)
	mod, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: module compile: %v", ErrInvalidParameters, err)
	}
	e.cache.Add(key, mod)
	return mod, nil
}

// Execute instantiates moduleCID/wasmBytes, wires the ICN host ABI
// into its "env" imports, invokes entry, and enforces the resource
// bounds. initialMana is not read. Mana queued through consume_mana is
// debited from caller only after a clean return, and ManaConsumed reports
// that amount; on any failure nothing is debited and ManaConsumed is 0.
func (e *WasmExecutor) Execute(ctx context.Context, host *HostABI, caller DID, moduleCID CID, wasmBytes []byte, entry string, args []byte, initialMana uint64) (*ExecutionOutcome, error) {
	mod, err := e.compile(moduleCID, wasmBytes)
	if err != nil {
		return nil, err
	}

	store := wasmer.NewStore(e.engine)
	outcome := &ExecutionOutcome{Success: true}
	hctx := &hostExecCtx{
		caller: caller,
		meter: &instructionMeter{limit: e.limits.MaxInstructions},
		host: host,
		outcome: outcome,
	}

	imports := e.registerHost(store, hctx)

	// A module that imports rather than defines its own linear memory gets
	// it capped at the engine level by this limit; a module that defines
	// its own memory is instead policed by the poll loop below, since
	// wasmer-go exposes no grow-time callback for self-defined memory.
	limits, limErr := wasmer.NewLimits(0, e.limits.MaxMemoryPages)
	if limErr == nil {
		boundedMemory := wasmer.NewMemory(store, wasmer.NewMemoryType(limits))
		imports.Register("env", map[string]wasmer.IntoExtern{"memory": boundedMemory})
	}

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate: %v", ErrInvalidParameters, err)
	}

	if mem, memErr := instance.Exports.GetMemory("memory"); memErr == nil {
		hctx.mem = mem
	}

	fn, err := instance.Exports.GetFunction(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: entry point %q not exported", ErrInvalidParameters, entry)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.limits.MaxExecutionTime)
	defer cancel()

	started := time.Now()
	type result struct {
		value interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, callErr := fn(argsToWasm(args)...)
		done <- result{value: v, err: callErr}
	}()

	memPoll := time.NewTicker(5 * time.Millisecond)
	defer memPoll.Stop()

loop:
	for {
		select {
		case r := <-done:
			if r.err != nil {
				outcome.Success = false
				outcome.Error = r.err.Error()
			} else if code, ok := r.value.(int32); ok {
				outcome.ResultCode = code
			}
			break loop
		case <-execCtx.Done():
			outcome.Success = false
			outcome.Error = fmt.Sprintf("%v: execution exceeded %s", ErrTimeout, e.limits.MaxExecutionTime)
			break loop
		case <-memPoll.C:
			if hctx.checkMemory(e.limits.MaxMemoryPages) {
				outcome.Success = false
				outcome.Error = fmt.Sprintf("%v: memory exceeded %d pages", ErrInternal, e.limits.MaxMemoryPages)
				break loop
			}
		}
	}

	// A clean return requires no trap/timeout/memory breach *and* the
	// guest's own exported memory, checked once more now that the call has
	// actually returned, still within bound. No host-ABI effect is
	// committed otherwise.
	if outcome.Success && hctx.checkMemory(e.limits.MaxMemoryPages) {
		outcome.Success = false
		outcome.Error = fmt.Sprintf("%v: memory exceeded %d pages", ErrInternal, e.limits.MaxMemoryPages)
	}

	outcome.ExecutionTime = time.Since(started)
	hctx.meter.mu.Lock()
	outcome.InstructionsExecuted = hctx.meter.used
	hctx.meter.mu.Unlock()
	if hctx.mem != nil {
		outcome.MemoryPagesUsed = uint32(hctx.mem.Size())
	}

	if outcome.Success {
		spent, flushErr := hctx.flushMana()
		if flushErr != nil {
			outcome.Success = false
			outcome.Error = flushErr.Error()
			outcome.ManaConsumed = 0
		} else {
			outcome.ManaConsumed = spent
		}
	}
	return outcome, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// argsToWasm is a placeholder boundary: CCL entry points in this runtime
// take no direct wasm-level parameters; a module that needs input reads
// it through the host functions registered below.
func argsToWasm(args []byte) []wasmer.Value { return nil }

// registerHost binds the host ABI function table into "env" as Go
// closures wrapped by wasmer.NewFunction: mana, the logical clock, role
// counts, quorum, governance reads and signature verification. No mesh,
// governance-write or credit function is bound.
func (e *WasmExecutor) registerHost(store *wasmer.Store, h *hostExecCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	i32 := wasmer.ValueKind(wasmer.I32)

	read := func(ptr, ln int32) []byte {
		if h.mem == nil {
			return nil
		}
		data := h.mem.Data()
		if int(ptr) < 0 || int(ptr)+int(ln) > len(data) {
			return nil
		}
		out := make([]byte, ln)
		copy(out, data[ptr:ptr+ln])
		return out
	}
	write := func(ptr int32, data []byte) {
		if h.mem == nil {
			return
		}
		mdata := h.mem.Data()
		if int(ptr) < 0 || int(ptr)+len(data) > len(mdata) {
			return
		}
		copy(mdata[ptr:], data)
	}

	meter := func() error { return h.meter.consume(1) }

	getAvailableMana := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter(); err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI32(int32(h.availableMana()))}, nil
		})

	consumeMana := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter(); err != nil {
				return nil, err
			}
			amount := uint64(args[0].I32())
			if !h.queueMana(amount) {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	getCurrentTimestamp := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter(); err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI32(int32(h.host.CurrentTimestamp()))}, nil
		})

	getMemberCount := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter(); err != nil {
				return nil, err
			}
			rolePtr, roleLen := args[0].I32(), args[1].I32()
			role := read(rolePtr, roleLen)
			count, err := h.host.GetMemberCount(string(role))
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(int32(count))}, nil
		})

	calculateQuorum := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter(); err != nil {
				return nil, err
			}
			eligible := int(args[0].I32())
			thresholdPercent := int32(args[1].I32())
			quorum := h.host.CalculateQuorum(eligible, float64(thresholdPercent)/100.0)
			return []wasmer.Value{wasmer.NewI32(int32(quorum))}, nil
		})

	getProposalData := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32, i32, i32),
			wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter(); err != nil {
				return nil, err
			}
			idPtr, idLen, dstPtr := args[0].I32(), args[1].I32(), args[2].I32()
			id := read(idPtr, idLen)
			data, err := h.host.GetProposalData(string(id))
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			write(dstPtr, data)
			return []wasmer.Value{wasmer.NewI32(int32(len(data)))}, nil
		})

	getVoteCount := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter(); err != nil {
				return nil, err
			}
			idPtr, idLen := args[0].I32(), args[1].I32()
			id := read(idPtr, idLen)
			count, err := h.host.GetVoteCount(string(id))
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(int32(count))}, nil
		})

	verifySignature := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32, i32, i32, i32, i32, i32),
			wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := meter(); err != nil {
				return nil, err
			}
			didPtr, didLen := args[0].I32(), args[1].I32()
			msgPtr, msgLen := args[2].I32(), args[3].I32()
			sigPtr, sigLen := args[4].I32(), args[5].I32()
			did, err := ParseDID(string(read(didPtr, didLen)))
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			ok := h.host.VerifySignature(did, read(msgPtr, msgLen), read(sigPtr, sigLen)) == nil
			if !ok {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"get_available_mana": getAvailableMana,
		"consume_mana": consumeMana,
		"get_current_timestamp": getCurrentTimestamp,
		"get_proposal_data": getProposalData,
		"get_vote_count": getVoteCount,
		"get_member_count": getMemberCount,
		"calculate_quorum": calculateQuorum,
		"verify_signature": verifySignature,
	})
	return imports
}
