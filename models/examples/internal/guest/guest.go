//go:build tinygo || wasm

// Package guest wraps the host functions a classifier module may import.
package guest

import "unsafe"

// Log forwards text to the host logger.
func Log(msg string) {
	if len(msg) == 0 {
		return
	}
	b := []byte(msg)
	hostLog(unsafe.Pointer(&b[0]), uint32(len(b)))
}

// Result hands the JSON-encoded prediction back to the host. Only the last
// call per classification counts.
func Result(payload []byte) {
	if len(payload) == 0 {
		return
	}
	hostResult(unsafe.Pointer(&payload[0]), uint32(len(payload)))
}

// Bytes views guest memory written by the host.
func Bytes(ptr, length uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

//go:wasmimport env host_log
func hostLog(ptr unsafe.Pointer, length uint32)

//go:wasmimport env host_result
func hostResult(ptr unsafe.Pointer, length uint32)
