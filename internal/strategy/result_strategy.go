package strategy

import (
	"math/rand/v2"
	"sync"

	"github.com/anime-shed/photo-flow-go/pkg/models"
)

// DefaultConfidenceLabel is the label attached to every synthetic result
const DefaultConfidenceLabel = "High"

// ResultGenerator produces the analysis result shown on the result stage.
// A real model can be substituted here without touching the flow controller.
type ResultGenerator interface {
	Generate(img models.WorkingImage) models.AnalysisResult
	GetStrategyName() string
}

// RandomResultGenerator draws a uniform percentage in [0,100]
type RandomResultGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomResultGenerator creates a generator seeded from the runtime source
func NewRandomResultGenerator() ResultGenerator {
	return &RandomResultGenerator{}
}

// NewSeededResultGenerator creates a reproducible generator
func NewSeededResultGenerator(seed1, seed2 uint64) ResultGenerator {
	return &RandomResultGenerator{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Generate ignores the image content: the result is synthetic.
func (g *RandomResultGenerator) Generate(_ models.WorkingImage) models.AnalysisResult {
	var pct int
	if g.rng == nil {
		pct = rand.IntN(101)
	} else {
		g.mu.Lock()
		pct = g.rng.IntN(101)
		g.mu.Unlock()
	}
	return models.AnalysisResult{
		Percentage:      pct,
		ConfidenceLabel: DefaultConfidenceLabel,
	}
}

// GetStrategyName returns the strategy name
func (g *RandomResultGenerator) GetStrategyName() string {
	return "random"
}

// FixedResultGenerator always returns the same result
type FixedResultGenerator struct {
	result models.AnalysisResult
}

// NewFixedResultGenerator clamps the percentage into [0,100]
func NewFixedResultGenerator(percentage int) ResultGenerator {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	return &FixedResultGenerator{
		result: models.AnalysisResult{Percentage: percentage, ConfidenceLabel: DefaultConfidenceLabel},
	}
}

// Generate returns the fixed result
func (g *FixedResultGenerator) Generate(_ models.WorkingImage) models.AnalysisResult {
	return g.result
}

// GetStrategyName returns the strategy name
func (g *FixedResultGenerator) GetStrategyName() string {
	return "fixed"
}

// SequenceResultGenerator cycles through a list of percentages
type SequenceResultGenerator struct {
	mu    sync.Mutex
	next  int
	steps []int
}

// NewSequenceResultGenerator is mostly useful for demos and tests
func NewSequenceResultGenerator(percentages ...int) ResultGenerator {
	if len(percentages) == 0 {
		percentages = []int{0}
	}
	return &SequenceResultGenerator{steps: percentages}
}

// Generate returns the next percentage in the sequence
func (g *SequenceResultGenerator) Generate(_ models.WorkingImage) models.AnalysisResult {
	g.mu.Lock()
	pct := g.steps[g.next%len(g.steps)]
	g.next++
	g.mu.Unlock()
	return NewFixedResultGenerator(pct).Generate(models.WorkingImage{})
}

// GetStrategyName returns the strategy name
func (g *SequenceResultGenerator) GetStrategyName() string {
	return "sequence"
}

// NewResultGenerator selects a generator by name, defaulting to random
func NewResultGenerator(name string, fixed int) ResultGenerator {
	switch name {
	case "fixed":
		return NewFixedResultGenerator(fixed)
	default:
		return NewRandomResultGenerator()
	}
}
