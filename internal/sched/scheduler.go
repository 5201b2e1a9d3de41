package sched

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"asterion/internal/genetic"
	"asterion/internal/model"
	"asterion/internal/population"
	"asterion/internal/registry"
	"asterion/internal/shm"
	"asterion/internal/storage"
)

var (
	// ErrNotRunning is returned by instance commands aimed at an
	// instance that has no live children.
	ErrNotRunning = errors.New("instance is not running")

	ErrNoPopulation = errors.New("no population loaded")
)

const maxBreedAttempts = 5

// Observer receives scheduler lifecycle events; the control surface uses
// it to drive metrics. All methods may be called from the scheduler
// worker only.
type Observer interface {
	InstanceStarted(id int)
	InstanceFinished(id int, fitness float64)
	// InstanceErrored fires only for instances that previously started;
	// instances whose resources could not be created fire
	// InstanceStartFailed instead.
	InstanceErrored(id int)
	InstanceStartFailed(id int)
	GenerationCompleted(diag population.Diagnostics)
}

type noopObserver struct{}

func (noopObserver) InstanceStarted(int)                        {}
func (noopObserver) InstanceFinished(int, float64)              {}
func (noopObserver) InstanceErrored(int)                        {}
func (noopObserver) InstanceStartFailed(int)                    {}
func (noopObserver) GenerationCompleted(population.Diagnostics) {}

type Config struct {
	PopulationRoot string
	GameBin        string
	AgentBin       string
	ShmDir         string
	ReportPath     string
	RunID          string

	MaxParallel int
	Generations int
	EpochSize   int
	EliteCount  int

	Eta            float64
	MutationRate   float64
	MutationStddev float64

	ScoreWeight float64
	TimeWeight  float64
	LevelWeight float64

	TickInterval time.Duration
	ReapGrace    time.Duration
	Headless     bool
	Seed         int64

	// ChildEnv is appended to the children's environment; tests use it to
	// point helper binaries at the segment directory.
	ChildEnv []string

	Selector genetic.Selector
	Logger   *logrus.Logger
	Store    storage.Store
	Observer Observer
}

// Scheduler runs generations of instances under a parallelism cap and
// breeds the next generation when one completes. It is the only writer of
// descriptor state.
type Scheduler struct {
	cfg Config
	log *logrus.Logger
	reg *registry.Registry
	rng *rand.Rand
	obs Observer

	stopFlag atomic.Bool

	mu    sync.Mutex
	procs map[int]*instancePair

	gen         int
	diagnostics []population.Diagnostics
	bestFitness float64
}

type instancePair struct {
	game  *proc
	agent *proc
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.PopulationRoot == "" {
		return nil, errors.New("population root is required")
	}
	if cfg.GameBin == "" || cfg.AgentBin == "" {
		return nil, errors.New("game and agent binaries are required")
	}
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("max parallel must be > 0, got %d", cfg.MaxParallel)
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0, got %d", cfg.Generations)
	}
	if cfg.EpochSize < 0 {
		return nil, fmt.Errorf("epoch size must be >= 0, got %d", cfg.EpochSize)
	}
	if cfg.EliteCount < 0 {
		return nil, fmt.Errorf("elite count must be >= 0, got %d", cfg.EliteCount)
	}
	if cfg.Eta < 0 {
		return nil, fmt.Errorf("eta must be >= 0, got %v", cfg.Eta)
	}
	if cfg.ShmDir == "" {
		cfg.ShmDir = shm.DefaultDir
	}
	if cfg.ReportPath == "" {
		cfg.ReportPath = filepath.Join(cfg.PopulationRoot, "report.csv")
	}
	if cfg.RunID == "" {
		cfg.RunID = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ReapGrace <= 0 {
		cfg.ReapGrace = 5 * time.Second
	}
	if cfg.Selector == nil {
		cfg.Selector = genetic.RouletteSelector{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Scheduler{
		cfg:   cfg,
		log:   cfg.Logger,
		reg:   registry.New(),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		obs:   cfg.Observer,
		procs: make(map[int]*instancePair),
	}, nil
}

// Registry exposes read access for status queries.
func (s *Scheduler) Registry() *registry.Registry {
	return s.reg
}

// Generation returns the index of the loaded generation.
func (s *Scheduler) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// RunID identifies this run in reports and the history store.
func (s *Scheduler) RunID() string {
	return s.cfg.RunID
}

// Diagnostics returns the per-generation summaries recorded so far.
func (s *Scheduler) Diagnostics() []population.Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]population.Diagnostics(nil), s.diagnostics...)
}

// BestFitness is the best fitness seen across completed generations.
func (s *Scheduler) BestFitness() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestFitness
}

// LoadPopulation discards the previous registry contents and loads the
// newest generation under the population root.
func (s *Scheduler) LoadPopulation() error {
	gen, instances, err := population.Load(s.cfg.PopulationRoot)
	if err != nil {
		return fmt.Errorf("load population: %w", err)
	}
	if err := s.reg.Reset(instances); err != nil {
		return err
	}

	s.mu.Lock()
	s.gen = gen
	s.procs = make(map[int]*instancePair)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"generation": gen,
		"population": len(instances),
	}).Info("population loaded")
	return nil
}

// Stop requests a cooperative shutdown; the run loop drains and reaps
// every live instance before Run returns.
func (s *Scheduler) Stop() {
	s.stopFlag.Store(true)
}

// Run executes the configured number of generations. A cooperative stop
// returns nil after draining; context cancellation returns the context
// error, also after draining.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.reg.Len() == 0 {
		if err := s.LoadPopulation(); err != nil {
			return err
		}
	}
	s.stopFlag.Store(false)
	startedAt := time.Now().UTC()

	gameSeed := s.rng.Int63()
	for iter := 0; iter < s.cfg.Generations; iter++ {
		if s.cfg.EpochSize > 0 && iter > 0 && iter%s.cfg.EpochSize == 0 {
			gameSeed = s.rng.Int63()
			s.log.WithField("seed", gameSeed).Info("epoch reseed")
		}
		s.markAllWaiting(gameSeed)

		for {
			if err := ctx.Err(); err != nil {
				s.drain()
				return err
			}
			if s.stopFlag.Load() {
				s.drain()
				return nil
			}

			s.startEligible()
			s.pollRunning()
			s.reapCompleted(ctx)

			if s.reg.AllTerminal() {
				break
			}
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.TickInterval):
			}
		}

		diag, err := s.finishGeneration(ctx)
		if err != nil {
			return err
		}
		s.obs.GenerationCompleted(diag)

		if err := s.breedNextGeneration(); err != nil {
			return fmt.Errorf("create generation %d: %w", s.gen+1, err)
		}
		if iter+1 < s.cfg.Generations {
			if err := s.LoadPopulation(); err != nil {
				return err
			}
		}
	}

	return s.saveRunRecord(ctx, startedAt)
}

func (s *Scheduler) markAllWaiting(gameSeed int64) {
	for _, inst := range s.reg.Snapshot() {
		s.reg.Update(inst.ID, func(i *registry.Instance) {
			i.Status = registry.StatusWaiting
			i.GamePID = -1
			i.AgentPID = -1
			i.GameSeed = gameSeed
			i.Fitness = 0
		})
	}
}

// startEligible starts waiting instances until the parallelism cap is
// reached or nothing is left to start.
func (s *Scheduler) startEligible() {
	for s.reg.CountByStatus(registry.StatusRunning) < s.cfg.MaxParallel {
		inst, ok := s.reg.FirstWithStatus(registry.StatusWaiting)
		if !ok {
			return
		}
		s.startInstance(inst)
	}
}

func (s *Scheduler) startInstance(inst registry.Instance) {
	log := s.log.WithFields(logrus.Fields{"id": inst.ID, "model": inst.ModelPath})

	fail := func(stage string, err error, segs ...interface{ Free() error }) {
		log.WithError(err).Errorf("start failed: %s", stage)
		for _, seg := range segs {
			_ = seg.Free()
		}
		s.reg.Update(inst.ID, func(i *registry.Instance) { i.Status = registry.StatusErrored })
		s.obs.InstanceStartFailed(inst.ID)
	}

	in, err := shm.AllocateInput(s.cfg.ShmDir, inst.InputName)
	if err != nil {
		fail("allocate input segment", err)
		return
	}
	out, err := shm.AllocateOutput(s.cfg.ShmDir, inst.OutputName)
	if err != nil {
		fail("allocate output segment", err, in.Segment())
		return
	}
	status, err := shm.AllocateStatus(s.cfg.ShmDir, inst.StatusName)
	if err != nil {
		fail("allocate status segment", err, in.Segment(), out.Segment())
		return
	}
	in.Segment().Init()
	out.Segment().Init()
	status.Segment().Init()
	status.Write(shm.StatusState{
		ManagerAlive: true,
		RunHeadless:  s.cfg.Headless,
		GameSeed:     inst.GameSeed,
	})

	gameArgs := []string{"-m", inst.InputName, inst.OutputName, inst.StatusName, "-s", strconv.FormatInt(inst.GameSeed, 10)}
	agentArgs := []string{"-m", inst.InputName, inst.OutputName, inst.StatusName, "-l", inst.ModelPath}

	game, err := startProc(s.cfg.GameBin, gameArgs, s.cfg.ChildEnv)
	if err != nil {
		fail("start game", err, in.Segment(), out.Segment(), status.Segment())
		return
	}
	agent, err := startProc(s.cfg.AgentBin, agentArgs, s.cfg.ChildEnv)
	if err != nil {
		game.Terminate()
		_ = game.Reap(context.Background(), s.cfg.ReapGrace)
		fail("start agent", err, in.Segment(), out.Segment(), status.Segment())
		return
	}

	s.reg.PutSegments(in, out, status)
	s.mu.Lock()
	s.procs[inst.ID] = &instancePair{game: game, agent: agent}
	s.mu.Unlock()

	s.reg.Update(inst.ID, func(i *registry.Instance) {
		i.Status = registry.StatusRunning
		i.GamePID = game.PID()
		i.AgentPID = agent.PID()
	})
	s.obs.InstanceStarted(inst.ID)
	log.WithFields(logrus.Fields{"game_pid": game.PID(), "agent_pid": agent.PID()}).Info("instance started")
}

// pollRunning checks liveness and completion of every running instance
// once per tick.
func (s *Scheduler) pollRunning() {
	for _, id := range s.reg.IDsWithStatus(registry.StatusRunning) {
		inst, ok := s.reg.Get(id)
		if !ok {
			continue
		}
		pair := s.pair(id)
		if pair == nil {
			continue
		}
		seg, ok := s.reg.StatusSegment(inst.StatusName)
		if !ok {
			continue
		}

		state := seg.Read()
		if state.IsOver {
			s.finishInstance(id, seg, state)
			continue
		}
		if !pair.game.Alive() || !pair.agent.Alive() {
			// A child vanished without reporting completion; take its
			// sibling down with it.
			pair.game.Terminate()
			pair.agent.Terminate()
			s.reg.Update(id, func(i *registry.Instance) { i.Status = registry.StatusErrored })
			s.obs.InstanceErrored(id)
			s.log.WithField("id", id).Warn("instance child vanished")
		}
	}
}

func (s *Scheduler) finishInstance(id int, seg *shm.Status, state shm.StatusState) {
	fitness := s.fitness(state)
	seg.Update(func(st *shm.StatusState) {
		st.GameExit = true
		st.AgentExit = true
	})
	s.reg.Update(id, func(i *registry.Instance) {
		i.Status = registry.StatusFinished
		i.Fitness = fitness
	})
	s.obs.InstanceFinished(id, fitness)
	s.log.WithFields(logrus.Fields{
		"id":      id,
		"score":   state.Score,
		"level":   state.Level,
		"elapsed": state.ElapsedTime,
		"fitness": fitness,
	}).Info("instance finished")
}

func (s *Scheduler) fitness(state shm.StatusState) float64 {
	return float64(state.Score)*s.cfg.ScoreWeight +
		float64(state.ElapsedTime)*s.cfg.TimeWeight +
		float64(state.Level)*s.cfg.LevelWeight
}

// reapCompleted waits on the children of every finished or errored
// instance and releases its segments, moving it to its terminal state.
func (s *Scheduler) reapCompleted(ctx context.Context) {
	for _, id := range s.reg.IDsWithStatus(registry.StatusFinished) {
		s.reapInstance(ctx, id)
	}
	for _, id := range s.reg.IDsWithStatus(registry.StatusErrored) {
		s.reapInstance(ctx, id)
	}
}

func (s *Scheduler) reapInstance(ctx context.Context, id int) {
	inst, ok := s.reg.Get(id)
	if !ok {
		return
	}

	s.mu.Lock()
	pair := s.procs[id]
	delete(s.procs, id)
	s.mu.Unlock()

	if pair != nil {
		if err := pair.game.Reap(ctx, s.cfg.ReapGrace); err != nil {
			s.log.WithField("id", id).WithError(err).Debug("game reap")
		}
		if err := pair.agent.Reap(ctx, s.cfg.ReapGrace); err != nil {
			s.log.WithField("id", id).WithError(err).Debug("agent reap")
		}
	}

	in, out, status := s.reg.TakeSegments(inst)
	if in != nil {
		_ = in.Segment().Free()
	}
	if out != nil {
		_ = out.Segment().Free()
	}
	if status != nil {
		_ = status.Segment().Free()
	}

	terminal := registry.StatusErrEnded
	if inst.Status == registry.StatusFinished {
		terminal = registry.StatusEnded
	}
	s.reg.Update(id, func(i *registry.Instance) { i.Status = terminal })
	s.log.WithFields(logrus.Fields{"id": id, "status": terminal.String()}).Debug("instance reaped")
}

// KillInstance SIGTERMs both children of a running instance, marks it
// errored and reaps it immediately.
func (s *Scheduler) KillInstance(id int) error {
	inst, ok := s.reg.Get(id)
	if !ok {
		return fmt.Errorf("no instance %d", id)
	}
	if inst.Status != registry.StatusRunning {
		return fmt.Errorf("%w: instance %d is %s", ErrNotRunning, id, inst.Status)
	}

	pair := s.pair(id)
	if pair != nil {
		pair.game.Terminate()
		pair.agent.Terminate()
	}
	s.reg.Update(id, func(i *registry.Instance) { i.Status = registry.StatusErrored })
	s.obs.InstanceErrored(id)
	s.reapInstance(context.Background(), id)
	return nil
}

// ToggleHeadless flips the instance's runHeadless bit; the game observes
// it on its next status poll.
func (s *Scheduler) ToggleHeadless(id int) (bool, error) {
	inst, ok := s.reg.Get(id)
	if !ok {
		return false, fmt.Errorf("no instance %d", id)
	}
	if inst.Status != registry.StatusRunning {
		return false, fmt.Errorf("%w: instance %d is %s", ErrNotRunning, id, inst.Status)
	}
	seg, ok := s.reg.StatusSegment(inst.StatusName)
	if !ok {
		return false, fmt.Errorf("no status segment for instance %d", id)
	}
	state := seg.Update(func(st *shm.StatusState) {
		st.RunHeadless = !st.RunHeadless
	})
	return state.RunHeadless, nil
}

// drain force-stops every live instance and reaps it: exit flags first,
// then SIGTERM, then a blocking reap.
func (s *Scheduler) drain() {
	for _, id := range s.reg.IDsWithStatus(registry.StatusRunning) {
		inst, ok := s.reg.Get(id)
		if !ok {
			continue
		}
		if seg, ok := s.reg.StatusSegment(inst.StatusName); ok {
			seg.Update(func(st *shm.StatusState) {
				st.GameExit = true
				st.AgentExit = true
			})
		}
		if pair := s.pair(id); pair != nil {
			pair.game.Terminate()
			pair.agent.Terminate()
		}
		s.reg.Update(id, func(i *registry.Instance) { i.Status = registry.StatusErrored })
		s.obs.InstanceErrored(id)
	}
	s.reapCompleted(context.Background())
	s.log.Info("scheduler drained")
}

// finishGeneration appends the report, records diagnostics and persists
// them to the run-history store.
func (s *Scheduler) finishGeneration(ctx context.Context) (population.Diagnostics, error) {
	snapshot := s.reg.Snapshot()

	rows := make([]population.ReportRow, 0, len(snapshot))
	fitness := make([]float64, 0, len(snapshot))
	for _, inst := range snapshot {
		rows = append(rows, population.ReportRow{
			InstanceID: inst.ID,
			ExitStatus: inst.Status.String(),
			ModelPath:  inst.ModelPath,
			Generation: inst.Generation,
			GameSeed:   inst.GameSeed,
			Fitness:    inst.Fitness,
		})
		fitness = append(fitness, inst.Fitness)
	}

	if err := population.AppendReport(s.cfg.ReportPath, rows); err != nil {
		return population.Diagnostics{}, fmt.Errorf("write report: %w", err)
	}
	diag, err := population.Summarize(s.gen, fitness)
	if err != nil {
		return population.Diagnostics{}, err
	}

	s.mu.Lock()
	s.diagnostics = append(s.diagnostics, diag)
	if diag.BestFitness > s.bestFitness || len(s.diagnostics) == 1 {
		s.bestFitness = diag.BestFitness
	}
	diagnostics := append([]population.Diagnostics(nil), s.diagnostics...)
	s.mu.Unlock()

	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveInstanceResults(ctx, s.cfg.RunID, s.gen, rows); err != nil {
			return population.Diagnostics{}, fmt.Errorf("save instance results: %w", err)
		}
		if err := s.cfg.Store.SaveGenerationDiagnostics(ctx, s.cfg.RunID, diagnostics); err != nil {
			return population.Diagnostics{}, fmt.Errorf("save diagnostics: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"generation": diag.Generation,
		"best":       diag.BestFitness,
		"mean":       diag.MeanFitness,
	}).Info("generation completed")
	return diag, nil
}

// breedNextGeneration writes gen N+1: elites copied byte for byte, the
// remaining slots bred from fitness-proportionate parents.
func (s *Scheduler) breedNextGeneration() error {
	snapshot := s.reg.Snapshot()
	if len(snapshot) == 0 {
		return ErrNoPopulation
	}

	ranked := snapshot
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })

	nextDir := population.GenerationDir(s.cfg.PopulationRoot, s.gen+1)
	if err := os.MkdirAll(nextDir, 0o755); err != nil {
		return err
	}

	eliteCount := s.cfg.EliteCount
	if eliteCount > len(ranked) {
		eliteCount = len(ranked)
	}
	for i := 0; i < eliteCount; i++ {
		if err := population.CopyModelFile(ranked[i].ModelPath, population.ModelPath(nextDir, i)); err != nil {
			return fmt.Errorf("copy elite %d: %w", i, err)
		}
	}

	candidates := make([]genetic.Candidate, len(ranked))
	for i, inst := range ranked {
		candidates[i] = genetic.Candidate{ID: i, Fitness: inst.Fitness}
	}
	params := genetic.BreedParams{
		Eta:            s.cfg.Eta,
		MutationRate:   s.cfg.MutationRate,
		MutationStddev: s.cfg.MutationStddev,
	}

	for slot := eliteCount; slot < len(ranked); slot++ {
		child, err := s.breedChild(ranked, candidates, eliteCount, params)
		if err != nil {
			return fmt.Errorf("breed slot %d: %w", slot, err)
		}
		if err := model.Serialize(population.ModelPath(nextDir, slot), child); err != nil {
			return fmt.Errorf("serialize slot %d: %w", slot, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"generation": s.gen + 1,
		"dir":        nextDir,
		"elites":     eliteCount,
	}).Info("next generation written")
	return nil
}

func (s *Scheduler) breedChild(ranked []registry.Instance, candidates []genetic.Candidate, eliteCount int, params genetic.BreedParams) (*model.Model, error) {
	var lastErr error
	for attempt := 0; attempt < maxBreedAttempts; attempt++ {
		c1, err := s.cfg.Selector.Pick(s.rng, candidates, eliteCount)
		if err != nil {
			return nil, err
		}
		c2, err := s.cfg.Selector.Pick(s.rng, candidates, eliteCount)
		if err != nil {
			return nil, err
		}

		p1, err := model.Deserialize(ranked[c1.ID].ModelPath)
		if err != nil {
			lastErr = err
			continue
		}
		p2, err := model.Deserialize(ranked[c2.ID].ModelPath)
		if err != nil {
			lastErr = err
			continue
		}

		child, err := genetic.Breed(p1, p2, params, s.rng)
		if err != nil {
			lastErr = err
			continue
		}
		return child, nil
	}
	return nil, fmt.Errorf("no breedable parents after %d attempts: %w", maxBreedAttempts, lastErr)
}

func (s *Scheduler) saveRunRecord(ctx context.Context, startedAt time.Time) error {
	if s.cfg.Store == nil {
		return nil
	}

	s.mu.Lock()
	best := s.bestFitness
	s.mu.Unlock()

	run := storage.RunRecord{
		VersionedRecord: storage.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID:          s.cfg.RunID,
		CreatedAtUTC:   startedAt.Format(time.RFC3339),
		PopulationRoot: s.cfg.PopulationRoot,
		Generations:    s.cfg.Generations,
		MaxParallel:    s.cfg.MaxParallel,
		EliteCount:     s.cfg.EliteCount,
		Seed:           s.cfg.Seed,
		BestFitness:    best,
	}
	if err := s.cfg.Store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run record: %w", err)
	}
	return nil
}

func (s *Scheduler) pair(id int) *instancePair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}
