// Package sentence renders the gesture history into a text-generation request
// and tracks the latest generated sentence.
package sentence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

const DefaultSystem = "You are a helpful assistant."

const DefaultInstruction = `You will be given a bunch of lists that include words and probability. Your job is to select one word from each list to construct a grammatically correct and meaningful sentence. You can only pick 1 word from each list.

Example:
{Apple(70%), tired(30%)}
{is(60%), crazy(30%), beautiful(10%)}
{favorite(50%), jump(20%), sit(30%)}
{my(50%), sandwich(20%), maximum(30%)}
{fruit(50%), or(20%), but(30%)}

Lists:`

type Request struct {
	System      string `json:"system"`
	Prompt      string `json:"prompt"`
	Entries     int    `json:"entries"`
	Fingerprint string `json:"fingerprint"`
}

// Builder is stateless; Build is a pure function of its input.
type Builder struct {
	System      string
	Instruction string
}

func NewBuilder() Builder {
	return Builder{System: DefaultSystem, Instruction: DefaultInstruction}
}

// Build renders one line per history entry in window order. Within an entry
// labels are ordered by probability descending, then by label.
func (b Builder) Build(snapshot []map[string]float64) Request {
	var sb strings.Builder
	sb.WriteString(b.Instruction)
	for _, dist := range snapshot {
		sb.WriteByte('\n')
		sb.WriteString(RenderEntry(dist))
	}
	prompt := sb.String()

	sum := sha256.Sum256([]byte(b.System + "\x00" + prompt))
	return Request{
		System:      b.System,
		Prompt:      prompt,
		Entries:     len(snapshot),
		Fingerprint: hex.EncodeToString(sum[:]),
	}
}

type labelProb struct {
	label string
	prob  float64
}

// RenderEntry formats one distribution as `{label(NN%), label(NN%)}`.
func RenderEntry(dist map[string]float64) string {
	items := make([]labelProb, 0, len(dist))
	for label, p := range dist {
		items = append(items, labelProb{label: label, prob: p})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].prob != items[j].prob {
			return items[i].prob > items[j].prob
		}
		return items[i].label < items[j].label
	})
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%s(%d%%)", it.label, int(math.Round(it.prob*100)))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
