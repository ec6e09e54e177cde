//go:build tinygo || wasm

// Command centroid is a sample classifier module for the wasm backend.
//
//	tinygo build -o centroid.wasm -target=wasi -buildmode=c-shared ./models/examples/centroid
package main

import (
	"encoding/json"
	"math"
	"unsafe"

	"github.com/loqalabs/loqa-gesture/models/examples/internal/guest"
)

const sharpness = 0.25

var centroids = map[string][6]float64{
	"hello":   {0.2, 0.6, -0.6, 0.5, 1.8, 0.2},
	"empower": {0.0, 0.9, 0.2, 0.2, 0.3, 0.2},
	"connect": {0.5, -0.5, -0.5, 1.5, 0.1, 0.1},
	"world":   {-0.7, 0.1, -0.5, 0.1, 0.2, 2.0},
	"silence": {0.0, 0.0, -1.0, 0.0, 0.0, 0.0},
	"clench":  {0.1, 0.1, -0.95, 0.6, 0.6, 0.6},
}

type request struct {
	Features [6]float64 `json:"features"`
}

type prediction struct {
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// buffers keeps host-written inputs reachable until classify runs.
var buffers = map[uint32][]byte{}

//export alloc
func alloc(size uint32) uint32 {
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	buffers[ptr] = buf
	return ptr
}

//export classify
func classify(ptr, length uint32) int32 {
	defer delete(buffers, ptr)
	var req request
	if err := json.Unmarshal(guest.Bytes(ptr, length), &req); err != nil {
		guest.Log("decode request: " + err.Error())
		return 1
	}
	out, err := json.Marshal(nearest(req.Features))
	if err != nil {
		guest.Log("encode prediction: " + err.Error())
		return 2
	}
	guest.Result(out)
	return 0
}

// nearest turns squared distances into a softmax over negative distance.
func nearest(fv [6]float64) prediction {
	dist := make(map[string]float64, len(centroids))
	minDist := math.Inf(1)
	for label, c := range centroids {
		var d float64
		for i := range c {
			diff := fv[i] - c[i]
			d += diff * diff
		}
		dist[label] = d
		minDist = math.Min(minDist, d)
	}

	p := prediction{Probabilities: make(map[string]float64, len(dist))}
	var sum float64
	for label, d := range dist {
		w := math.Exp(-(d - minDist) / sharpness)
		p.Probabilities[label] = w
		sum += w
	}
	best := -1.0
	for label := range p.Probabilities {
		p.Probabilities[label] /= sum
		if v := p.Probabilities[label]; v > best || (v == best && label < p.Label) {
			best, p.Label = v, label
		}
	}
	return p
}

func main() {}
