package gaps

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"taskloom/internal/config"
	"taskloom/internal/graph"
	"taskloom/internal/logging"
	"taskloom/internal/plan"
)

// Candidate is a bridging-task proposal from the external generator.
type Candidate struct {
	Text        string `json:"text"`
	EffortHours int    `json:"effort_hours"`
}

// Generator produces a bridging-task candidate for one gap. Implemented
// outside the core (LLM-backed); the core treats the output as opaque.
type Generator interface {
	GenerateBridge(ctx context.Context, predecessor, successor plan.Task, gap plan.Gap) (Candidate, error)
}

// GenerateCandidates runs the external generator for each gap with bounded
// parallelism, returning insertions in the gaps' severity order. A failed
// or empty candidate becomes a per-gap GenerationFailure ("requires manual
// input"), never a retry; only context cancellation fails the whole batch.
func GenerateCandidates(ctx context.Context, gen Generator, g *graph.Graph, detected []plan.Gap, cfg config.BridgingConfig) ([]Insertion, []plan.GenerationFailure, error) {
	timer := logging.StartTimer(logging.CategoryGaps, "GenerateCandidates")
	defer timer.Stop()

	if gen == nil || len(detected) == 0 {
		return nil, nil, nil
	}

	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	// Slots keep the severity order of the input regardless of which
	// worker finishes first.
	type slot struct {
		insertion *Insertion
		failure   *plan.GenerationFailure
	}
	slots := make([]slot, len(detected))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallel)

	for i, gap := range detected {
		eg.Go(func() error {
			pred, predOK := g.Task(gap.Predecessor)
			succ, succOK := g.Task(gap.Successor)
			if !predOK || !succOK {
				slots[i].failure = &plan.GenerationFailure{
					Predecessor: gap.Predecessor,
					Successor:   gap.Successor,
					Reason:      "anchor task unknown to graph",
				}
				return nil
			}

			cand, err := gen.GenerateBridge(gctx, pred, succ, gap)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slots[i].failure = &plan.GenerationFailure{
					Predecessor: gap.Predecessor,
					Successor:   gap.Successor,
					Reason:      err.Error(),
				}
				return nil
			}
			if strings.TrimSpace(cand.Text) == "" {
				slots[i].failure = &plan.GenerationFailure{
					Predecessor: gap.Predecessor,
					Successor:   gap.Successor,
					Reason:      "generator returned empty candidate",
				}
				return nil
			}

			effort := cand.EffortHours
			if effort <= 0 {
				effort = cfg.DefaultEffortHours
			}
			slots[i].insertion = &Insertion{
				Bridge: plan.Task{
					Text:        strings.TrimSpace(cand.Text),
					EffortHours: effort,
					SourceDoc:   pred.SourceDoc,
				},
				Predecessor: gap.Predecessor,
				Successor:   gap.Successor,
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	var insertions []Insertion
	var failures []plan.GenerationFailure
	for _, s := range slots {
		if s.insertion != nil {
			insertions = append(insertions, *s.insertion)
		}
		if s.failure != nil {
			failures = append(failures, *s.failure)
			logging.Get(logging.CategoryGaps).Warn("%v", s.failure)
		}
	}

	logging.Gaps("GenerateCandidates: %d gaps, %d candidates, %d failures",
		len(detected), len(insertions), len(failures))
	return insertions, failures, nil
}
