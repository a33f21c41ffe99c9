package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BeamStatus is the lifecycle state of one search branch.
type BeamStatus string

const (
	BeamActive BeamStatus = "active"
	BeamDone   BeamStatus = "done"
	BeamFailed BeamStatus = "failed"
	BeamPruned BeamStatus = "pruned"
)

// Beam is one branch of the search: its own conversation state, cumulative
// score and lifecycle status. Each beam owns its sandbox session.
type Beam struct {
	ID     string
	State  *State
	Score  float64
	Status BeamStatus
	Depth  int
	order  int // discovery order, used as the last tie-breaker
}

// BeamConfig controls the search shape.
type BeamConfig struct {
	Width    int // surviving beams per depth (W)
	Samples  int // candidate steps generated per beam (K)
	MaxDepth int // step budget per beam
}

func (c *BeamConfig) normalize() {
	if c.Width < 1 {
		c.Width = 1
	}
	if c.Samples < 1 {
		c.Samples = 1
	}
	if c.MaxDepth < 1 {
		c.MaxDepth = 1
	}
}

// Search explores up to Width*Samples candidate continuations per depth and
// returns the best terminal beam's result. With Width=1 and Samples=1 it
// degrades to the plain sequential session loop.
//
// When no beam reaches DONE within MaxDepth, the highest-scoring failed beam
// is returned with NonAuthoritative set; that is not an error.
func (s *Session) Search(ctx context.Context, task string, cfg BeamConfig) (Result, error) {
	cfg.normalize()

	root := &Beam{
		ID:     uuid.NewString(),
		State:  s.seed(ctx, task),
		Status: BeamActive,
	}
	root.State.MaxSteps = cfg.MaxDepth

	active := []*Beam{root}
	var failed []*Beam
	order := 1

	defer func() {
		for _, b := range active {
			s.teardown(b.State)
		}
		for _, b := range failed {
			s.teardown(b.State)
		}
	}()

	for depth := 0; depth < cfg.MaxDepth && len(active) > 0; depth++ {
		select {
		case <-ctx.Done():
			return s.beamCancelled(ctx, active, failed)
		default:
		}

		candidates := s.expand(ctx, active, cfg, depth, &order)

		// Parents never continue past an expansion; their sandbox state lives
		// on in the forked children.
		for _, parent := range active {
			s.teardown(parent.State)
		}

		var done, next, broke []*Beam
		for _, c := range candidates {
			switch c.Status {
			case BeamDone:
				done = append(done, c)
			case BeamFailed:
				broke = append(broke, c)
			default:
				next = append(next, c)
			}
		}
		failed = append(failed, broke...)

		s.scoreCandidates(ctx, task, candidates)

		if len(done) > 0 {
			winner := bestBeam(done)
			for _, c := range candidates {
				if c != winner {
					s.prune(ctx, c)
				}
			}
			active = nil
			s.finish(ctx, winner.State)
			res := s.result(winner.State)
			s.teardown(winner.State)
			return res, nil
		}

		sortBeams(next)
		if len(next) > cfg.Width {
			for _, c := range next[cfg.Width:] {
				s.prune(ctx, c)
			}
			next = next[:cfg.Width]
		}
		active = next
	}

	// Depth exhausted without a DONE beam: the survivors failed on budget.
	for _, b := range active {
		budgetErr := &BudgetExceededError{Steps: b.State.Step, MaxSteps: cfg.MaxDepth}
		b.State.Status = StatusFailed
		b.State.FailReason = budgetErr
		b.Status = BeamFailed
		failed = append(failed, b)
	}
	active = nil

	if len(failed) == 0 {
		return Result{Status: StatusFailed}, nil
	}
	best := bestBeam(failed)
	res := s.result(best.State)
	res.Answer = stripFinalMarker(best.State.LastAssistant())
	res.NonAuthoritative = true
	return res, nil
}

// expand generates Samples candidate continuations for every active beam.
// Each parent gets one multi-sample Generate call; every returned response
// becomes a candidate with its own cloned state and forked sandbox. When a
// parent's whole generation fails, a single failed candidate carries the
// error forward.
func (s *Session) expand(ctx context.Context, active []*Beam, cfg BeamConfig, depth int, order *int) []*Beam {
	var mu sync.Mutex
	var candidates []*Beam

	spawn := func(parent *Beam) *Beam {
		mu.Lock()
		defer mu.Unlock()
		cand := &Beam{
			ID:     uuid.NewString(),
			State:  parent.State.Clone(),
			Score:  parent.Score,
			Status: BeamActive,
			Depth:  depth + 1,
			order:  *order,
		}
		*order++
		candidates = append(candidates, cand)
		return cand
	}

	fail := func(cand *Beam, err error) {
		cand.Status = BeamFailed
		cand.State.Status = StatusFailed
		cand.State.FailReason = err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, parent := range active {
		parent := parent
		s.Hooks.OnBeamExpand(ctx, parent.ID, depth, cfg.Samples)

		g.Go(func() error {
			reflect := s.reflectStep(parent.State.Step)
			nudge := nudgePrompt(reflect)
			msgs := append([]ChatMessage(nil), parent.State.History...)
			msgs = append(msgs, nudge)

			schemas := s.Registry.Schemas()
			s.Hooks.OnBeforeLLM(gctx, parent.State, msgs, schemas)

			opts := s.chatOptions()
			responses, err := Generate(gctx, s.LLM, parent.State.Model, msgs, schemas, opts, cfg.Samples)
			if err != nil {
				fail(spawn(parent), err)
				return nil
			}

			retryConfig := getRetryConfig(opts)
			for _, resp := range responses {
				cand := spawn(parent)
				cand.State.Status = StatusStepping
				s.Hooks.OnStepStart(gctx, cand.State)
				cand.State.Append(nudge)

				if s.Sandbox != nil && parent.State.SandboxID != "" {
					childID, err := s.Sandbox.Fork(gctx, parent.State.SandboxID)
					if err != nil {
						fail(cand, err)
						continue
					}
					cand.State.SandboxID = childID
				}

				step := applyStepResponse(gctx, s.Registry, cand.State, s.Hooks, retryConfig, resp, reflect)
				cand.State.Step++
				if step.Final {
					cand.Status = BeamDone
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return candidates
}

// scoreCandidates adds per-candidate scores to the cumulative beam scores.
// Scoring failures fall back to the heuristic; they never fail the search.
func (s *Session) scoreCandidates(ctx context.Context, task string, candidates []*Beam) {
	if len(candidates) < 2 {
		return
	}
	scorer := s.Scorer
	if scorer == nil {
		scorer = HeuristicScorer{}
	}
	scores, err := scorer.Score(ctx, task, candidates)
	if err != nil || len(scores) != len(candidates) {
		scores, _ = HeuristicScorer{}.Score(ctx, task, candidates)
	}
	for i, c := range candidates {
		c.Score += scores[i]
	}
}

func (s *Session) prune(ctx context.Context, b *Beam) {
	b.Status = BeamPruned
	s.Hooks.OnBeamPrune(ctx, b.ID, b.Score)
	s.teardown(b.State)
}

func (s *Session) beamCancelled(ctx context.Context, active, failed []*Beam) (Result, error) {
	var best *Beam
	if len(active) > 0 {
		best = bestBeam(active)
	} else if len(failed) > 0 {
		best = bestBeam(failed)
	}
	res := Result{Status: StatusFailed, Err: ctx.Err()}
	if best != nil {
		best.State.Status = StatusFailed
		best.State.FailReason = ctx.Err()
		res = s.result(best.State)
	}
	return res, ctx.Err()
}

// sortBeams orders by score descending, then fewer steps, then discovery order.
func sortBeams(beams []*Beam) {
	sort.SliceStable(beams, func(i, j int) bool {
		if beams[i].Score != beams[j].Score {
			return beams[i].Score > beams[j].Score
		}
		if beams[i].State.Step != beams[j].State.Step {
			return beams[i].State.Step < beams[j].State.Step
		}
		return beams[i].order < beams[j].order
	})
}

func bestBeam(beams []*Beam) *Beam {
	sorted := append([]*Beam(nil), beams...)
	sortBeams(sorted)
	return sorted[0]
}
