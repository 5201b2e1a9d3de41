package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func newTestModel(t *testing.T, seed int64) *Model {
	t.Helper()
	m, err := NewRandom([]int32{5, 8, 4}, ActivationTanh, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("new random model: %v", err)
	}
	return m
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_0.fnnm")
	m := newTestModel(t, 7)

	if err := Serialize(path, m); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := Deserialize(path)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if len(got.LayerSizes) != len(m.LayerSizes) {
		t.Fatalf("layer count mismatch: got %d want %d", len(got.LayerSizes), len(m.LayerSizes))
	}
	for i := range m.LayerSizes {
		if got.LayerSizes[i] != m.LayerSizes[i] {
			t.Fatalf("layer %d mismatch: got %d want %d", i, got.LayerSizes[i], m.LayerSizes[i])
		}
	}
	for i := range m.Weights {
		if got.Weights[i] != m.Weights[i] {
			t.Fatalf("weight %d mismatch: got %v want %v", i, got.Weights[i], m.Weights[i])
		}
	}
	for i := range m.Biases {
		if got.Biases[i] != m.Biases[i] {
			t.Fatalf("bias %d mismatch: got %v want %v", i, got.Biases[i], m.Biases[i])
		}
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.fnnm")
	if err := os.WriteFile(path, []byte("NOPExxxxxxxxxxxxxxxxxxxxxxxx"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Deserialize(path); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("want ErrBadMagic, got %v", err)
	}
}

func TestDeserializeRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.fnnm")
	m := newTestModel(t, 3)
	if err := Serialize(path, m); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)/2], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Deserialize(path); err == nil {
		t.Fatal("expected error on truncated file")
	}
}

func TestReadRejectsFewerThanTwoLayers(t *testing.T) {
	var buf bytes.Buffer
	one := &Model{LayerSizes: []int32{4}, Activations: nil}
	if err := Write(&buf, one); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Read(&buf); !errors.Is(err, ErrTooFewLayers) {
		t.Fatalf("want ErrTooFewLayers, got %v", err)
	}
}

func TestSerializeLeavesNoPartialFileOnInvalidModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.fnnm")
	bad := &Model{LayerSizes: []int32{2, 2}, Activations: []int32{ActivationReLU}, Weights: []float32{1}, Biases: []float32{0, 0}}
	if err := Serialize(path, bad); err == nil {
		t.Fatal("expected error for mismatched vectors")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file at %s", path)
	}
}

func TestReadRejectsAbsurdParameterCounts(t *testing.T) {
	// A header can be internally consistent (counts match the claimed
	// topology) while implying an allocation no real model reaches. Such
	// files must fail like any other corrupt model, not crash the loader.
	const huge = int32(2147483647)
	var buf bytes.Buffer
	buf.WriteString("FNNM")
	writeLE(t, &buf, uint16(1))
	writeLE(t, &buf, int64(huge)*int64(huge)) // weight count
	writeLE(t, &buf, 2*int64(huge))           // bias count
	writeLE(t, &buf, int32(2))
	writeLE(t, &buf, []int32{huge, huge})
	writeLE(t, &buf, []int32{ActivationSigmoid})

	if _, err := Read(&buf); err == nil {
		t.Fatal("expected error for absurd parameter counts")
	}
}

func TestReadRejectsNegativeParameterCounts(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("FNNM")
	writeLE(t, &buf, uint16(1))
	writeLE(t, &buf, int64(-1))
	writeLE(t, &buf, int64(8))
	writeLE(t, &buf, int32(2))
	writeLE(t, &buf, []int32{4, 8})
	writeLE(t, &buf, []int32{ActivationSigmoid})

	if _, err := Read(&buf); err == nil {
		t.Fatal("expected error for negative weight count")
	}
}

func writeLE(t *testing.T, buf *bytes.Buffer, v any) {
	t.Helper()
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatal(err)
	}
}
