package classifier

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-gesture/internal/features"
)

func TestWasmModelMissingFile(t *testing.T) {
	ctx := context.Background()
	if _, err := NewWasmModel(ctx, filepath.Join(t.TempDir(), "missing.wasm"), "classify", testLogger()); err == nil {
		t.Fatalf("expected error for missing module")
	}
}

func TestWasmModelInvalidModule(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "garbage.wasm")
	if err := os.WriteFile(path, []byte("definitely not wasm"), 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}
	if _, err := NewWasmModel(ctx, path, "classify", testLogger()); err == nil {
		t.Fatalf("expected compile error for invalid module")
	}
}

func TestWasmModelCloseNil(t *testing.T) {
	var m *WasmModel
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("close nil model: %v", err)
	}
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func wasmSection(id byte, items ...[]byte) []byte {
	body := uleb(uint32(len(items)))
	for _, item := range items {
		body = append(body, item...)
	}
	return append(append([]byte{id}, uleb(uint32(len(body)))...), body...)
}

func wasmBody(code ...byte) []byte {
	body := append([]byte{0x00}, code...) // no locals
	return append(uleb(uint32(len(body))), body...)
}

// guestModule assembles a classifier guest. Its entrypoint echoes the
// request through host_log, reports result through host_result unless
// result is empty, and returns code.
func guestModule(entrypoint, result string, code int32) []byte {
	const (
		i32  = 0x7f
		fn   = 0x60
		call = 0x10
		get  = 0x20
		cnst = 0x41
		end  = 0x0b
	)
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, wasmSection(1,
		[]byte{fn, 2, i32, i32, 0},
		[]byte{fn, 1, i32, 1, i32},
		[]byte{fn, 2, i32, i32, 1, i32},
	)...)
	mod = append(mod, wasmSection(2,
		append(append(wasmName("env"), wasmName("host_log")...), 0x00, 0),
		append(append(wasmName("env"), wasmName("host_result")...), 0x00, 0),
	)...)
	mod = append(mod, wasmSection(3, []byte{1}, []byte{2})...)
	mod = append(mod, wasmSection(5, []byte{0x00, 1})...)
	mod = append(mod, wasmSection(7,
		append(wasmName("memory"), 0x02, 0),
		append(wasmName("alloc"), 0x00, 2),
		append(wasmName(entrypoint), 0x00, 3),
	)...)

	alloc := wasmBody(append(append([]byte{cnst}, sleb(1024)...), end)...)
	classify := []byte{get, 0, get, 1, call, 0}
	if result != "" {
		classify = append(classify, cnst, 0, cnst)
		classify = append(classify, sleb(int32(len(result)))...)
		classify = append(classify, call, 1)
	}
	classify = append(append(append(classify, cnst), sleb(code)...), end)
	mod = append(mod, wasmSection(10, alloc, wasmBody(classify...))...)

	segment := []byte{0x00, cnst, 0, end}
	segment = append(append(segment, uleb(uint32(len(result)))...), result...)
	return append(mod, wasmSection(11, segment)...)
}

func writeGuest(t *testing.T, module []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guest.wasm")
	if err := os.WriteFile(path, module, 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}
	return path
}

func TestWasmModelPredict(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	result := `{"label":"world","probabilities":{"hello":0.1,"world":0.9}}`

	m, err := NewWasmModel(ctx, writeGuest(t, guestModule("classify", result, 0)), "", log)
	if err != nil {
		t.Fatalf("new wasm model: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(ctx) })

	for i := 0; i < 2; i++ {
		pred, err := m.Predict(ctx, features.FeatureVector{0.5, -1, 0.25, 0, 0, 2})
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		if pred.Label != "world" || pred.Probabilities["world"] != 0.9 || pred.Probabilities["hello"] != 0.1 {
			t.Fatalf("prediction = %+v", pred)
		}
	}
	if !strings.Contains(logs.String(), "guest log") || !strings.Contains(logs.String(), "xAccel") {
		t.Fatalf("guest did not receive the request, logs:\n%s", logs.String())
	}
}

func TestWasmModelCustomEntrypoint(t *testing.T) {
	ctx := context.Background()
	path := writeGuest(t, guestModule("predict_gesture", `{"probabilities":{"hello":1}}`, 0))

	if _, err := NewWasmModel(ctx, path, "classify", testLogger()); err == nil {
		t.Fatalf("expected error when the entrypoint is not exported")
	}
	m, err := NewWasmModel(ctx, path, "predict_gesture", testLogger())
	if err != nil {
		t.Fatalf("new wasm model: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(ctx) })
	pred, err := m.Predict(ctx, features.FeatureVector{})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred.Label != "" || pred.Probabilities["hello"] != 1 {
		t.Fatalf("prediction = %+v", pred)
	}
}

func TestWasmModelGuestFailures(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		result string
		code   int32
		want   string
	}{
		{name: "non-zero code", result: `{"probabilities":{}}`, code: 3, want: "code 3"},
		{name: "no result", code: 0, want: "did not report"},
		{name: "malformed result", result: `{"probabilities":`, code: 0, want: "decode guest result"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewWasmModel(ctx, writeGuest(t, guestModule("classify", tc.result, tc.code)), "classify", testLogger())
			if err != nil {
				t.Fatalf("new wasm model: %v", err)
			}
			t.Cleanup(func() { _ = m.Close(ctx) })
			_, err = m.Predict(ctx, features.FeatureVector{})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}
