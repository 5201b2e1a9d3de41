package shm

import (
	"encoding/binary"
	"math"
)

// Fixed little-endian body layouts. Field order is the wire contract shared
// with the game and agent processes; do not reorder.

// InputState carries the agent's control bits. Single writer: agent.
type InputState struct {
	Forward bool
	Left    bool
	Right   bool
	Fire    bool
}

const inputBodySize = 4

// OutputState carries the game's normalized sensor vector. Single writer:
// game.
type OutputState struct {
	Rotation        float32
	VelocityX       float32
	VelocityY       float32
	ObstacleDist    float32
	ObstacleBearing float32
}

const outputBodySize = 20

// StatusState carries liveness, control flags and game telemetry. The
// manager and game both write it, each to its own fields; the agent only
// reads.
type StatusState struct {
	GameAlive    bool
	ManagerAlive bool
	AgentAlive   bool
	GameExit     bool
	AgentExit    bool
	IsOver       bool
	IsPaused     bool
	RunHeadless  bool
	Score        int32
	Level        int32
	ElapsedTime  int32
	GameSeed     int64
}

const statusBodySize = 8 + 12 + 8

func decodeBool(b byte) bool {
	return b != 0
}

func encodeBool(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// Input wraps a segment with the Input layout.
type Input struct {
	seg *Segment
}

func AllocateInput(dir, name string) (*Input, error) {
	seg, err := Allocate(dir, name, inputBodySize)
	if err != nil {
		return nil, err
	}
	return &Input{seg: seg}, nil
}

func ConnectInput(dir, name string) (*Input, error) {
	seg, err := Connect(dir, name, inputBodySize)
	if err != nil {
		return nil, err
	}
	return &Input{seg: seg}, nil
}

func (s *Input) Segment() *Segment { return s.seg }

func (s *Input) Read() InputState {
	s.seg.Lock()
	defer s.seg.Unlock()

	b := s.seg.body()
	return InputState{
		Forward: decodeBool(b[0]),
		Left:    decodeBool(b[1]),
		Right:   decodeBool(b[2]),
		Fire:    decodeBool(b[3]),
	}
}

func (s *Input) Write(state InputState) {
	s.seg.Lock()
	defer s.seg.Unlock()

	b := s.seg.body()
	b[0] = encodeBool(state.Forward)
	b[1] = encodeBool(state.Left)
	b[2] = encodeBool(state.Right)
	b[3] = encodeBool(state.Fire)
}

// Output wraps a segment with the Output layout.
type Output struct {
	seg *Segment
}

func AllocateOutput(dir, name string) (*Output, error) {
	seg, err := Allocate(dir, name, outputBodySize)
	if err != nil {
		return nil, err
	}
	return &Output{seg: seg}, nil
}

func ConnectOutput(dir, name string) (*Output, error) {
	seg, err := Connect(dir, name, outputBodySize)
	if err != nil {
		return nil, err
	}
	return &Output{seg: seg}, nil
}

func (s *Output) Segment() *Segment { return s.seg }

func (s *Output) Read() OutputState {
	s.seg.Lock()
	defer s.seg.Unlock()

	b := s.seg.body()
	return OutputState{
		Rotation:        decodeFloat32(b[0:]),
		VelocityX:       decodeFloat32(b[4:]),
		VelocityY:       decodeFloat32(b[8:]),
		ObstacleDist:    decodeFloat32(b[12:]),
		ObstacleBearing: decodeFloat32(b[16:]),
	}
}

func (s *Output) Write(state OutputState) {
	s.seg.Lock()
	defer s.seg.Unlock()

	b := s.seg.body()
	encodeFloat32(b[0:], state.Rotation)
	encodeFloat32(b[4:], state.VelocityX)
	encodeFloat32(b[8:], state.VelocityY)
	encodeFloat32(b[12:], state.ObstacleDist)
	encodeFloat32(b[16:], state.ObstacleBearing)
}

// Status wraps a segment with the Status layout.
type Status struct {
	seg *Segment
}

func AllocateStatus(dir, name string) (*Status, error) {
	seg, err := Allocate(dir, name, statusBodySize)
	if err != nil {
		return nil, err
	}
	return &Status{seg: seg}, nil
}

func ConnectStatus(dir, name string) (*Status, error) {
	seg, err := Connect(dir, name, statusBodySize)
	if err != nil {
		return nil, err
	}
	return &Status{seg: seg}, nil
}

func (s *Status) Segment() *Segment { return s.seg }

func (s *Status) Read() StatusState {
	s.seg.Lock()
	defer s.seg.Unlock()
	return s.decode()
}

func (s *Status) Write(state StatusState) {
	s.seg.Lock()
	defer s.seg.Unlock()
	s.encode(state)
}

// Update applies fn to the current state under the lock, preserving fields
// owned by the other processes across the read-modify-write.
func (s *Status) Update(fn func(*StatusState)) StatusState {
	s.seg.Lock()
	defer s.seg.Unlock()

	state := s.decode()
	fn(&state)
	s.encode(state)
	return state
}

func (s *Status) decode() StatusState {
	b := s.seg.body()
	return StatusState{
		GameAlive:    decodeBool(b[0]),
		ManagerAlive: decodeBool(b[1]),
		AgentAlive:   decodeBool(b[2]),
		GameExit:     decodeBool(b[3]),
		AgentExit:    decodeBool(b[4]),
		IsOver:       decodeBool(b[5]),
		IsPaused:     decodeBool(b[6]),
		RunHeadless:  decodeBool(b[7]),
		Score:        int32(binary.LittleEndian.Uint32(b[8:])),
		Level:        int32(binary.LittleEndian.Uint32(b[12:])),
		ElapsedTime:  int32(binary.LittleEndian.Uint32(b[16:])),
		GameSeed:     int64(binary.LittleEndian.Uint64(b[20:])),
	}
}

func (s *Status) encode(state StatusState) {
	b := s.seg.body()
	b[0] = encodeBool(state.GameAlive)
	b[1] = encodeBool(state.ManagerAlive)
	b[2] = encodeBool(state.AgentAlive)
	b[3] = encodeBool(state.GameExit)
	b[4] = encodeBool(state.AgentExit)
	b[5] = encodeBool(state.IsOver)
	b[6] = encodeBool(state.IsPaused)
	b[7] = encodeBool(state.RunHeadless)
	binary.LittleEndian.PutUint32(b[8:], uint32(state.Score))
	binary.LittleEndian.PutUint32(b[12:], uint32(state.Level))
	binary.LittleEndian.PutUint32(b[16:], uint32(state.ElapsedTime))
	binary.LittleEndian.PutUint64(b[20:], uint64(state.GameSeed))
}

func decodeFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func encodeFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
