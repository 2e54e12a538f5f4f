package detect

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/replit/sandbox-correlate/internal/graph"
)

// Strategy is one detection technique run against the full graph.
type Strategy interface {
	Name() string
	Run(g *graph.Graph) []*Finding
}

// Engine holds the fixed, ordered list of detection strategies and runs
// them all against a graph, per spec §4.4.
type Engine struct {
	strategies []Strategy
	logger     *logrus.Logger
}

// NewEngine builds the engine with its fixed strategy order:
// ProcessInjection, then ScheduledTaskCreation. A nil logger falls back
// to logrus.StandardLogger().
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		strategies: []Strategy{
			ProcessInjection{},
			ScheduledTaskCreation{},
		},
		logger: logger,
	}
}

// Run invokes every strategy in order, concatenating their findings. A
// strategy that panics (StrategyFault, spec §7.4) is logged and skipped;
// its sibling strategies still run.
func (eng *Engine) Run(g *graph.Graph) []*Finding {
	var all []*Finding
	for _, s := range eng.strategies {
		findings := eng.runStrategy(s, g)
		all = append(all, findings...)
	}
	return all
}

func (eng *Engine) runStrategy(s Strategy, g *graph.Graph) (findings []*Finding) {
	defer func() {
		if r := recover(); r != nil {
			eng.logger.WithFields(logrus.Fields{
				"strategy": s.Name(),
				"panic":    fmt.Sprintf("%v", r),
			}).Error("detect: strategy faulted, continuing with remaining strategies")
			findings = nil
		}
	}()
	findings = s.Run(g)
	return findings
}
