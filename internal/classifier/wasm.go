package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/loqalabs/loqa-gesture/internal/features"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmModel hosts a classifier compiled to WebAssembly. The guest exports
// `alloc(size) ptr` and an entrypoint `(ptr, len) code`, and reports its
// Prediction as JSON through the imported `env.host_result`.
type WasmModel struct {
	rt      wazero.Runtime
	module  api.Module
	alloc   api.Function
	entry   api.Function
	log     *slog.Logger
	mu      sync.Mutex
	pending []byte
}

func NewWasmModel(ctx context.Context, path, entrypoint string, log *slog.Logger) (*WasmModel, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	if entrypoint == "" {
		entrypoint = "classify"
	}

	m := &WasmModel{
		rt:  wazero.NewRuntime(ctx),
		log: log.With(slog.String("component", "wasm-classifier")),
	}
	if err := m.instantiateHostModule(ctx); err != nil {
		m.rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, m.rt); err != nil {
		m.rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	compiled, err := m.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		m.rt.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}
	moduleConfig := wazero.NewModuleConfig().
		WithName("classifier").
		WithStartFunctions("_initialize")
	module, err := m.rt.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		m.rt.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	m.module = module
	m.alloc = module.ExportedFunction("alloc")
	m.entry = module.ExportedFunction(entrypoint)
	if m.alloc == nil || m.entry == nil {
		m.rt.Close(ctx)
		return nil, fmt.Errorf("module must export alloc and %q", entrypoint)
	}
	return m, nil
}

func (m *WasmModel) Close(ctx context.Context) error {
	if m == nil || m.rt == nil {
		return nil
	}
	return m.rt.Close(ctx)
}

func (m *WasmModel) Predict(ctx context.Context, fv features.FeatureVector) (Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil

	input, err := json.Marshal(newModelRequest(fv))
	if err != nil {
		return Prediction{}, err
	}
	res, err := m.alloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return Prediction{}, fmt.Errorf("guest alloc: %w", err)
	}
	ptr := api.DecodeU32(res[0])
	if !m.module.Memory().Write(ptr, input) {
		return Prediction{}, fmt.Errorf("guest memory write out of range (ptr=%d len=%d)", ptr, len(input))
	}
	res, err = m.entry.Call(ctx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return Prediction{}, fmt.Errorf("guest classify: %w", err)
	}
	if code := api.DecodeI32(res[0]); code != 0 {
		return Prediction{}, fmt.Errorf("guest classify returned code %d", code)
	}
	if m.pending == nil {
		return Prediction{}, errors.New("guest did not report a result")
	}
	var pred Prediction
	if err := json.Unmarshal(m.pending, &pred); err != nil {
		return Prediction{}, fmt.Errorf("decode guest result: %w", err)
	}
	return pred, nil
}

func (m *WasmModel) instantiateHostModule(ctx context.Context) error {
	builder := m.rt.NewHostModuleBuilder("env")

	hostLogFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		data, ok := readGuest(mod, stack)
		if !ok {
			return
		}
		m.log.Debug("guest log", slog.String("message", string(data)))
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(hostLogFn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithName("host_log").
		Export("host_log")

	hostResultFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		data, ok := readGuest(mod, stack)
		if !ok {
			m.log.Warn("host_result: unable to read guest memory")
			return
		}
		m.pending = append([]byte(nil), data...)
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(hostResultFn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithName("host_result").
		Export("host_result")

	_, err := builder.Instantiate(ctx)
	return err
}

func readGuest(mod api.Module, stack []uint64) ([]byte, bool) {
	if len(stack) < 2 {
		return nil, false
	}
	ptr := api.DecodeU32(stack[0])
	length := api.DecodeU32(stack[1])
	if length == 0 {
		return nil, false
	}
	mem := mod.Memory()
	if mem == nil {
		return nil, false
	}
	return mem.Read(ptr, length)
}
