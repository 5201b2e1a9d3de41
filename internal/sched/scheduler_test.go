package sched

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"asterion/internal/model"
	"asterion/internal/population"
	"asterion/internal/registry"
	"asterion/internal/shm"
	"asterion/internal/storage"
)

// The test binary doubles as the game and agent child: Run execs
// os.Args[0] with the real command lines and TestMain diverts to the
// helper before the test framework parses flags. The role is inferred
// from the trailing flag, -s for the game and -l for the agent.
func TestMain(m *testing.M) {
	if os.Getenv("SCHED_HELPER") != "1" {
		os.Exit(m.Run())
	}
	os.Exit(runHelper())
}

func runHelper() int {
	args := os.Args[1:]
	if len(args) < 6 || args[0] != "-m" {
		return 2
	}
	statusName := args[3]
	dir := os.Getenv("SCHED_HELPER_DIR")

	switch args[4] {
	case "-s":
		return helperGame(dir, statusName, args[5])
	case "-l":
		return helperAgent(dir, statusName)
	}
	return 2
}

func helperGame(dir, statusName, seedArg string) int {
	seg, err := shm.ConnectStatus(dir, statusName)
	if err != nil {
		return 1
	}
	defer seg.Segment().Disconnect()

	// The seed in argv and the one mirrored into Status must agree.
	seed, err := strconv.ParseInt(seedArg, 10, 64)
	if err != nil || seg.Read().GameSeed != seed {
		return 3
	}

	seg.Update(func(st *shm.StatusState) { st.GameAlive = true })

	if os.Getenv("SCHED_HELPER_HANG") == "1" {
		return awaitFlag(seg, func(st shm.StatusState) bool { return st.GameExit })
	}

	idx := segmentIndex(statusName)
	time.Sleep(30 * time.Millisecond)
	seg.Update(func(st *shm.StatusState) {
		st.Score = int32(10 * (idx + 1))
		st.Level = int32(idx)
		st.ElapsedTime = 5
		st.IsOver = true
	})
	return awaitFlag(seg, func(st shm.StatusState) bool { return st.GameExit })
}

func helperAgent(dir, statusName string) int {
	seg, err := shm.ConnectStatus(dir, statusName)
	if err != nil {
		return 1
	}
	defer seg.Segment().Disconnect()

	seg.Update(func(st *shm.StatusState) { st.AgentAlive = true })
	return awaitFlag(seg, func(st shm.StatusState) bool { return st.AgentExit })
}

func awaitFlag(seg *shm.Status, done func(shm.StatusState) bool) int {
	deadline := time.Now().Add(10 * time.Second)
	for !done(seg.Read()) {
		if time.Now().After(deadline) {
			return 1
		}
		time.Sleep(5 * time.Millisecond)
	}
	return 0
}

// segmentIndex recovers the instance index from a status segment name of
// the form model_<i>s (model basename minus extension, "s" appended).
func segmentIndex(statusName string) int {
	base := strings.TrimSuffix(statusName, "s")
	cut := strings.LastIndex(base, "_")
	if cut < 0 {
		return 0
	}
	n, err := strconv.Atoi(base[cut+1:])
	if err != nil {
		return 0
	}
	return n
}

type capObserver struct {
	running     int
	maxRunning  int
	started     int
	finished    int
	errored     int
	startFailed int
	generations int
}

func (o *capObserver) InstanceStarted(int) {
	o.started++
	o.running++
	if o.running > o.maxRunning {
		o.maxRunning = o.running
	}
}
func (o *capObserver) InstanceFinished(int, float64)              { o.finished++; o.running-- }
func (o *capObserver) InstanceErrored(int)                        { o.errored++; o.running-- }
func (o *capObserver) InstanceStartFailed(int)                    { o.startFailed++ }
func (o *capObserver) GenerationCompleted(population.Diagnostics) { o.generations++ }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func seedGeneration(t *testing.T, root string, count int) {
	t.Helper()
	dir := population.GenerationDir(root, 0)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < count; i++ {
		m, err := model.NewRandom([]int32{4, 6, 5}, model.ActivationSigmoid, rng)
		if err != nil {
			t.Fatalf("NewRandom failed: %v", err)
		}
		if err := model.Serialize(population.ModelPath(dir, i), m); err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}
	}
}

func testConfig(t *testing.T, root, shmDir string, hang bool) Config {
	t.Helper()
	env := []string{"SCHED_HELPER=1", "SCHED_HELPER_DIR=" + shmDir}
	if hang {
		env = append(env, "SCHED_HELPER_HANG=1")
	}
	return Config{
		PopulationRoot: root,
		GameBin:        os.Args[0],
		AgentBin:       os.Args[0],
		ShmDir:         shmDir,
		MaxParallel:    2,
		Generations:    1,
		EliteCount:     1,
		Eta:            2,
		MutationRate:   0.1,
		MutationStddev: 0.05,
		ScoreWeight:    1.5,
		TimeWeight:     0.25,
		LevelWeight:    10,
		TickInterval:   10 * time.Millisecond,
		ReapGrace:      2 * time.Second,
		Seed:           42,
		ChildEnv:       env,
		Logger:         quietLogger(),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	base := testConfig(t, t.TempDir(), t.TempDir(), false)

	bad := []func(*Config){
		func(c *Config) { c.PopulationRoot = "" },
		func(c *Config) { c.GameBin = "" },
		func(c *Config) { c.AgentBin = "" },
		func(c *Config) { c.MaxParallel = 0 },
		func(c *Config) { c.Generations = 0 },
		func(c *Config) { c.EliteCount = -1 },
		func(c *Config) { c.EpochSize = -1 },
		func(c *Config) { c.Eta = -1 },
	}
	for i, mutate := range bad {
		cfg := base
		mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("case %d: expected config error", i)
		}
	}

	if _, err := New(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	root := t.TempDir()
	shmDir := t.TempDir()
	seedGeneration(t, root, 4)

	obs := &capObserver{}
	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("store init: %v", err)
	}
	cfg := testConfig(t, root, shmDir, false)
	cfg.Observer = obs
	cfg.Store = store
	cfg.RunID = "run-e2e"

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Every instance ran to a clean end with the exact weighted fitness.
	for i := 0; i < 4; i++ {
		inst, ok := s.Registry().Get(i)
		if !ok {
			t.Fatalf("instance %d missing", i)
		}
		if inst.Status != registry.StatusEnded {
			t.Errorf("instance %d status = %s, want ENDED", i, inst.Status)
		}
		want := 1.5*float64(10*(i+1)) + 0.25*5 + 10*float64(i)
		if inst.Fitness != want {
			t.Errorf("instance %d fitness = %v, want %v", i, inst.Fitness, want)
		}
	}

	if obs.started != 4 || obs.finished != 4 || obs.errored != 0 {
		t.Errorf("observer counts started=%d finished=%d errored=%d", obs.started, obs.finished, obs.errored)
	}
	if obs.maxRunning != 2 {
		t.Errorf("max concurrent = %d, want 2", obs.maxRunning)
	}
	if obs.generations != 1 {
		t.Errorf("generations completed = %d, want 1", obs.generations)
	}

	// The next generation exists with a full complement of models and the
	// single elite is a byte-exact copy of the fittest parent.
	nextDir := population.GenerationDir(root, 1)
	files, err := population.ModelFiles(nextDir)
	if err != nil {
		t.Fatalf("ModelFiles failed: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("next generation has %d models, want 4", len(files))
	}
	best, err := os.ReadFile(population.ModelPath(population.GenerationDir(root, 0), 3))
	if err != nil {
		t.Fatal(err)
	}
	elite, err := os.ReadFile(population.ModelPath(nextDir, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(best, elite) {
		t.Error("elite model differs from fittest parent")
	}

	// Report: one header plus one row per instance.
	report, err := os.ReadFile(filepath.Join(root, "report.csv"))
	if err != nil {
		t.Fatalf("report missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(report)), "\n")
	if len(lines) != 5 {
		t.Fatalf("report has %d lines, want 5", len(lines))
	}
	if !strings.HasPrefix(lines[0], "instanceID,") {
		t.Errorf("report header = %q", lines[0])
	}

	// No shared memory objects may outlive the run.
	leftovers, err := os.ReadDir(shmDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("%d segment files left behind", len(leftovers))
	}
	if n := s.Registry().LiveSegmentCount(); n != 0 {
		t.Errorf("%d live segments still registered", n)
	}

	// Run history was persisted.
	ctx := context.Background()
	run, ok, err := store.GetRun(ctx, "run-e2e")
	if err != nil || !ok {
		t.Fatalf("run record missing: ok=%v err=%v", ok, err)
	}
	if run.BestFitness != 1.5*40+0.25*5+10*3 {
		t.Errorf("run best fitness = %v", run.BestFitness)
	}
	rows, ok, err := store.GetInstanceResults(ctx, "run-e2e")
	if err != nil || !ok {
		t.Fatalf("instance results missing: ok=%v err=%v", ok, err)
	}
	if len(rows) != 4 {
		t.Errorf("stored %d instance rows, want 4", len(rows))
	}
	diags, ok, err := store.GetGenerationDiagnostics(ctx, "run-e2e")
	if err != nil || !ok || len(diags) != 1 {
		t.Fatalf("diagnostics missing: ok=%v err=%v n=%d", ok, err, len(diags))
	}
}

func TestKillToggleAndStop(t *testing.T) {
	root := t.TempDir()
	shmDir := t.TempDir()
	seedGeneration(t, root, 4)

	cfg := testConfig(t, root, shmDir, true)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitStatus(t, s, 0, registry.StatusRunning)

	headless, err := s.ToggleHeadless(0)
	if err != nil {
		t.Fatalf("ToggleHeadless failed: %v", err)
	}
	if !headless {
		t.Error("first toggle should enable headless")
	}
	headless, err = s.ToggleHeadless(0)
	if err != nil {
		t.Fatalf("second ToggleHeadless failed: %v", err)
	}
	if headless {
		t.Error("second toggle should disable headless")
	}

	if err := s.KillInstance(0); err != nil {
		t.Fatalf("KillInstance failed: %v", err)
	}
	waitStatus(t, s, 0, registry.StatusErrEnded)

	if err := s.KillInstance(0); err == nil {
		t.Error("killing a reaped instance should fail")
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Stop returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	for _, inst := range s.Registry().Snapshot() {
		if !inst.Status.Terminal() && inst.Status != registry.StatusWaiting {
			t.Errorf("instance %d left in %s", inst.ID, inst.Status)
		}
	}
	leftovers, err := os.ReadDir(shmDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("%d segment files left behind after stop", len(leftovers))
	}
}

func TestRunFailsWithoutPopulation(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), t.TempDir(), false)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error for empty population root")
	}
}

func TestRunContextCancelDrains(t *testing.T) {
	root := t.TempDir()
	shmDir := t.TempDir()
	seedGeneration(t, root, 2)

	cfg := testConfig(t, root, shmDir, true)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitStatus(t, s, 0, registry.StatusRunning)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := s.Registry().LiveSegmentCount(); n != 0 {
		t.Errorf("%d live segments after cancel", n)
	}
}

func waitStatus(t *testing.T, s *Scheduler, id int, want registry.Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		inst, ok := s.Registry().Get(id)
		if ok && inst.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("instance %d never reached %s (now %s)", id, want, inst.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartFailureObservedWithoutRunningDecrement(t *testing.T) {
	root := t.TempDir()
	shmDir := t.TempDir()
	seedGeneration(t, root, 2)

	obs := &capObserver{}
	cfg := testConfig(t, root, shmDir, false)
	cfg.GameBin = "/nonexistent/asterion-game"
	cfg.Observer = obs

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if obs.startFailed != 2 || obs.started != 0 {
		t.Errorf("observer startFailed=%d started=%d, want 2 and 0", obs.startFailed, obs.started)
	}
	if obs.running != 0 {
		t.Errorf("running balance = %d after start failures, want 0", obs.running)
	}
	for _, inst := range s.Registry().Snapshot() {
		if inst.Status != registry.StatusErrEnded {
			t.Errorf("instance %d status = %s, want ERRENDED", inst.ID, inst.Status)
		}
	}
	leftovers, err := os.ReadDir(shmDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("%d segment files left after start failures", len(leftovers))
	}
}
