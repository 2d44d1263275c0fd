package session

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/flowsense/internal/event"
)

// TopicStateChange is emitted when the classified cognitive state changes.
// The payload is a StateChange.
const TopicStateChange event.Topic = "cognitive_state:change"

// CognitiveState labels the user's momentary behavioral state. It is always
// derived from the current action window, never stored as ground truth.
type CognitiveState string

// Cognitive states.
const (
	StateNeutral      CognitiveState = "neutral"
	StateFrustrated   CognitiveState = "frustrated"
	StateConcentrated CognitiveState = "concentrated"
	StateExploring    CognitiveState = "exploring"
	StateLearning     CognitiveState = "learning"
)

// Signals holds the independent per-state scores in [0,1].
type Signals struct {
	Frustrated   float64
	Concentrated float64
	Exploring    float64
	Learning     float64
}

// StateChange is the payload of TopicStateChange events.
type StateChange struct {
	From       CognitiveState
	To         CognitiveState
	Signals    Signals
	Confidence float64
}

// Classifier defaults.
const (
	DefaultClassifierWindow = 20
	DefaultConfidenceFloor  = 0.5
	DefaultMinDwell         = 2 * time.Second
	DefaultPauseGap         = time.Second
)

// Classifier derives a cognitive state from the recent action window and
// publishes changes through the owning bus. It keeps only the previously
// reported state, for hysteresis; everything else is recomputed on demand.
type Classifier struct {
	history *History
	bus     *event.Bus
	log     *logrus.Entry

	window          int
	confidenceFloor float64
	minDwell        time.Duration
	pauseGap        time.Duration

	mu         sync.Mutex
	current    CognitiveState
	changedAt  time.Time
	lastReport StateChange

	now func() time.Time
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithWindow sets how many recent actions the classifier examines.
func WithWindow(n int) ClassifierOption {
	return func(c *Classifier) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithConfidenceFloor sets the minimum winning score below which the
// classifier reports neutral.
func WithConfidenceFloor(f float64) ClassifierOption {
	return func(c *Classifier) {
		if f > 0 {
			c.confidenceFloor = f
		}
	}
}

// WithMinDwell sets the minimum time the classifier stays in a non-neutral
// state before allowing a transition out. Anti-flicker; zero disables.
func WithMinDwell(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		if d >= 0 {
			c.minDwell = d
		}
	}
}

// WithPauseGap sets the inter-action gap counted as a pause by the
// exploring signal.
func WithPauseGap(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		if d > 0 {
			c.pauseGap = d
		}
	}
}

// WithClassifierLogger sets the structured logger.
func WithClassifierLogger(log *logrus.Entry) ClassifierOption {
	return func(c *Classifier) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClassifier creates a classifier over the given history, publishing
// changes through bus.
func NewClassifier(history *History, bus *event.Bus, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		history:         history,
		bus:             bus,
		log:             discardEntry(),
		window:          DefaultClassifierWindow,
		confidenceFloor: DefaultConfidenceFloor,
		minDwell:        DefaultMinDwell,
		pauseGap:        DefaultPauseGap,
		current:         StateNeutral,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the most recently reported state.
func (c *Classifier) Current() CognitiveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// LastReport returns the most recent emitted change, if any.
func (c *Classifier) LastReport() StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport
}

// Classify recomputes signals over the recent window and, on a state change
// that clears the dwell window, emits cognitive_state:change. The context
// should come from the triggering event's handler so the dispatch breaker
// can see classifier-driven loops.
func (c *Classifier) Classify(ctx context.Context) CognitiveState {
	signals := c.Signals()
	next, confidence := dominant(signals)
	if confidence < c.confidenceFloor {
		next = StateNeutral
	}

	c.mu.Lock()
	if next == c.current {
		c.mu.Unlock()
		return next
	}
	// Hysteresis: a non-neutral state holds for the dwell window before a
	// flip to another state is reported.
	if c.current != StateNeutral && c.now().Sub(c.changedAt) < c.minDwell {
		prev := c.current
		c.mu.Unlock()
		return prev
	}

	change := StateChange{
		From:       c.current,
		To:         next,
		Signals:    signals,
		Confidence: confidence,
	}
	c.current = next
	c.changedAt = c.now()
	c.lastReport = change
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"from":       change.From,
		"to":         change.To,
		"confidence": change.Confidence,
	}).Debug("cognitive state change")

	c.bus.PublishEvent(ctx, event.Event{
		Name:    TopicStateChange,
		Source:  "classifier",
		Payload: change,
	})
	return next
}

// Signals computes the independent per-state scores over the window.
func (c *Classifier) Signals() Signals {
	window := c.history.Window(c.window)
	if len(window) < 3 {
		return Signals{}
	}

	metrics := c.history.Metrics(c.window)
	clusters := c.history.ErrorClusters(DefaultClusterWindow)

	return Signals{
		Frustrated:   c.frustrated(metrics, clusters, len(window)),
		Concentrated: c.concentrated(metrics),
		Exploring:    c.exploring(metrics, window),
		Learning:     c.learning(window),
	}
}

// frustrated rises with the error rate and with how much of the window is
// caught up in failure bursts.
func (c *Classifier) frustrated(m Metrics, clusters ClusterReport, total int) float64 {
	clustered := 0
	for _, cl := range clusters.Clusters {
		clustered += cl.Size()
	}
	density := float64(clustered) / float64(total)
	return clamp01(0.6*m.ErrorRate + 0.4*density)
}

// concentrated rises with a low error rate and steady, non-trivial speed.
func (c *Classifier) concentrated(m Metrics) float64 {
	if m.AverageSpeed == 0 {
		return 0
	}

	var variance float64
	for _, s := range m.VelocityProfile {
		d := s.Speed - m.AverageSpeed
		variance += d * d
	}
	variance /= float64(len(m.VelocityProfile))
	consistency := clamp01(1 - math.Sqrt(variance)/m.AverageSpeed)

	return clamp01((1 - m.ErrorRate) * (0.4 + 0.6*consistency))
}

// exploring rises with action variety and pause frequency.
func (c *Classifier) exploring(m Metrics, window []Action) float64 {
	pauses := 0
	for i := 1; i < len(window); i++ {
		if window[i].Timestamp.Sub(window[i-1].Timestamp) > c.pauseGap {
			pauses++
		}
	}
	pauseFreq := float64(pauses) / float64(len(window)-1)
	return clamp01(0.7*m.ActionVariety + 0.3*pauseFreq)
}

// learning rises when the success rate of the recent half of the window
// exceeds the rolling baseline of the older half.
func (c *Classifier) learning(window []Action) float64 {
	half := len(window) / 2
	if half < 2 {
		return 0
	}
	baseline := successRate(window[:half])
	recent := successRate(window[half:])
	if recent <= baseline {
		return 0
	}
	return clamp01((recent - baseline) * 2)
}

func successRate(actions []Action) float64 {
	if len(actions) == 0 {
		return 0
	}
	ok := 0
	for _, a := range actions {
		if a.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(actions))
}

// dominant picks the highest-scoring state.
func dominant(s Signals) (CognitiveState, float64) {
	best, score := StateFrustrated, s.Frustrated
	if s.Concentrated > score {
		best, score = StateConcentrated, s.Concentrated
	}
	if s.Exploring > score {
		best, score = StateExploring, s.Exploring
	}
	if s.Learning > score {
		best, score = StateLearning, s.Learning
	}
	return best, score
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// discardEntry returns a logger entry that drops everything.
func discardEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
