package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/errors"
)

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages caps guest linear memory in 64KB pages.
	// 0 means the wazero default.
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// Engine owns one wazero runtime shared by every guest instance.
type Engine struct {
	runtime wazero.Runtime
}

// New creates an engine and installs the "dims" host module.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if err := registerHostModule(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "register host module")
	}
	return &Engine{runtime: runtime}, nil
}

// Close releases all engine resources. Every instance must be closed first.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Factory returns the instance factory backed by this engine. The factory
// runs on the host's load worker goroutine; ctx bounds compilation and
// later guest calls.
func (e *Engine) Factory(ctx context.Context) modhost.Factory {
	return func(args modhost.InstanceArgs) (modhost.Instance, error) {
		return e.newInstance(ctx, args)
	}
}

func (e *Engine) newInstance(ctx context.Context, args modhost.InstanceArgs) (modhost.Instance, error) {
	if len(args.Bytecode) == 0 {
		return nil, errors.InvalidBytecode(args.ModuleID, "empty bytecode")
	}

	compiled, err := e.runtime.CompileModule(ctx, args.Bytecode)
	if err != nil {
		return nil, errors.CompileFailure(args.ModuleID, err)
	}

	stdout := newLineWriter(args.Stdout)
	stderr := newLineWriter(args.Stderr)

	// Anonymous module name: the same bytecode may be live twice during a
	// reload. Start functions are disabled here and deferred to the first
	// Run so no guest code executes off the simulation goroutine.
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStdout(stdout).
		WithStderr(stderr).
		WithStartFunctions()

	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errors.CompileFailure(args.ModuleID, err)
	}

	run := mod.ExportedFunction(exportRun)
	if run == nil {
		_ = mod.Close(ctx)
		return nil, errors.New(errors.PhaseCompile, errors.KindInvalidBytecode).
			Module(args.ModuleID).
			Detail("guest does not export %q", exportRun).
			Build()
	}
	alloc := mod.ExportedFunction(exportAlloc)
	if alloc == nil {
		_ = mod.Close(ctx)
		return nil, errors.New(errors.PhaseCompile, errors.KindInvalidBytecode).
			Module(args.ModuleID).
			Detail("guest does not export %q", exportAlloc).
			Build()
	}

	Logger().Debug("instantiated guest",
		zap.Uint64("module", uint64(args.ModuleID)),
		zap.Int("bytecode_bytes", len(args.Bytecode)))

	return &wasmInstance{
		ctx:        ctx,
		moduleID:   args.ModuleID,
		host:       args.Host,
		mod:        mod,
		run:        run,
		alloc:      alloc,
		initialize: mod.ExportedFunction(exportInitialize),
		stdout:     stdout,
		stderr:     stderr,
		subscribed: make(map[string]struct{}),
	}, nil
}
