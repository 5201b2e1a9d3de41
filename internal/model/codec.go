package model

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// .fnnm binary layout, all little-endian:
// magic (4 bytes), version (uint16), total weight count (int64),
// total bias count (int64), layer count (int32), layer sizes (int32 each),
// activation codes (int32 per non-input layer), weights (float32 each),
// biases (float32 each).

const (
	fileMagic   = "FNNM"
	fileVersion = uint16(1)

	// maxLayerCount and maxParamCount bound the header so a corrupt file
	// cannot drive a huge or out-of-range allocation before validation.
	maxLayerCount = 1 << 16
	maxParamCount = 1 << 30
)

var (
	ErrBadMagic   = errors.New("not a fnnm model file")
	ErrBadVersion = errors.New("unsupported fnnm version")
)

// Deserialize reads a model from path. On any failure the returned model is
// nil; callers must treat a failed load as absent, never partially valid.
func Deserialize(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return m, nil
}

// Serialize writes the model to path as one unit. The file is written to a
// temporary sibling and renamed so a failed write leaves no partial file.
func Serialize(path string, m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := Write(w, m); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write model %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Read decodes one model record from r.
func Read(r io.Reader) (*Model, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if string(magic[:]) != fileMagic {
		return nil, ErrBadMagic
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != fileVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}

	var weightCount, biasCount int64
	if err := binary.Read(r, binary.LittleEndian, &weightCount); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &biasCount); err != nil {
		return nil, err
	}
	if weightCount < 0 || weightCount > maxParamCount {
		return nil, fmt.Errorf("weight count out of range: %d", weightCount)
	}
	if biasCount < 0 || biasCount > maxParamCount {
		return nil, fmt.Errorf("bias count out of range: %d", biasCount)
	}

	var layerCount int32
	if err := binary.Read(r, binary.LittleEndian, &layerCount); err != nil {
		return nil, err
	}
	if layerCount < 2 {
		return nil, ErrTooFewLayers
	}
	if layerCount > maxLayerCount {
		return nil, fmt.Errorf("layer count out of range: %d", layerCount)
	}

	m := &Model{
		LayerSizes:  make([]int32, layerCount),
		Activations: make([]int32, layerCount-1),
	}
	if err := binary.Read(r, binary.LittleEndian, m.LayerSizes); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, m.Activations); err != nil {
		return nil, err
	}

	if weightCount != WeightCount(m.LayerSizes) {
		return nil, fmt.Errorf("%w: header says %d weights, topology implies %d",
			ErrShapeMismatch, weightCount, WeightCount(m.LayerSizes))
	}
	if biasCount != BiasCount(m.LayerSizes) {
		return nil, fmt.Errorf("%w: header says %d biases, topology implies %d",
			ErrShapeMismatch, biasCount, BiasCount(m.LayerSizes))
	}

	m.Weights = make([]float32, weightCount)
	m.Biases = make([]float32, biasCount)
	if err := binary.Read(r, binary.LittleEndian, m.Weights); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, m.Biases); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Write encodes one model record to w. Callers should Validate first;
// Serialize does.
func Write(w io.Writer, m *Model) error {
	if _, err := w.Write([]byte(fileMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, fileVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int64(len(m.Weights))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int64(len(m.Biases))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(m.LayerSizes))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.LayerSizes); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.Activations); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.Weights); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.Biases)
}
