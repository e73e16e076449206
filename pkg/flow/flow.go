// Package flow is the guided shopping journey: selfie, preference chat,
// recommendations, try-on, checkout and feedback. A Flow is a linear state
// machine safe for concurrent use; camera consumers bound to a step are
// released when the flow leaves that step.
package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-tryon/pkg/capture"
	"github.com/teslashibe/go-tryon/pkg/catalog"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

// Step is a stage of the journey.
type Step string

const (
	StepSelfie     Step = "selfie"
	StepChat       Step = "chat"
	StepProcessing Step = "processing"
	StepResults    Step = "results"
	StepTryOn      Step = "tryOn"
	StepCheckout   Step = "checkout"
	StepFeedback   Step = "feedback"
)

// DefaultFaceShape is assumed until a face analysis says otherwise.
const DefaultFaceShape = "heart-shaped"

// DefaultProcessingDelay is how long the "analysing" screen is shown.
const DefaultProcessingDelay = 3 * time.Second

var (
	ErrWrongStep     = errors.New("flow: not allowed at this step")
	ErrUnknownOption = errors.New("flow: unknown option")
	ErrEmptyAnswer   = errors.New("flow: answer is empty")
	ErrInvalidRating = errors.New("flow: rating must be 1-5")
	ErrNoSelection   = errors.New("flow: no frame selected")
)

// Preferences are the answers that drive recommendations.
type Preferences struct {
	Budget           string `json:"budget"`
	Style            string `json:"style"`
	FaceShape        string `json:"faceShape"`
	InspirationPhoto string `json:"inspirationPhoto,omitempty"`
}

// ExtendedPreferences are the lifestyle answers.
type ExtendedPreferences struct {
	Environment   string `json:"environment"`
	ScreenTime    string `json:"screenTime"`
	Driving       string `json:"driving"`
	SpecificNeeds string `json:"specificNeeds"`
}

// View is a point-in-time copy of a flow.
type View struct {
	ID            string                   `json:"id"`
	Step          Step                     `json:"step"`
	QuestionIndex int                      `json:"questionIndex"`
	Question      *Question                `json:"question,omitempty"`
	Selfie        *capture.Photo           `json:"selfie,omitempty"`
	Preferences   Preferences              `json:"preferences"`
	Extended      ExtendedPreferences      `json:"extendedPreferences"`
	Results       []catalog.FrameSelection `json:"results,omitempty"`
	Selected      *catalog.FrameSelection  `json:"selected,omitempty"`
	Cart          []catalog.FrameSelection `json:"cart"`
	CartTotal     int                      `json:"cartTotal"`
	Rating        int                      `json:"rating"`
}

// Config holds flow collaborators.
type Config struct {
	Catalog         *catalog.Catalog
	ProcessingDelay time.Duration
	Scheduler       vto.Scheduler
	OnChange        func(View)
	Logger          *slog.Logger
}

// Option configures a Flow.
type Option func(*Config)

// WithCatalog sets the frame catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(cfg *Config) { cfg.Catalog = c }
}

// WithProcessingDelay sets how long processing lasts.
func WithProcessingDelay(d time.Duration) Option {
	return func(cfg *Config) { cfg.ProcessingDelay = d }
}

// WithScheduler sets the scheduler for the processing delay.
func WithScheduler(s vto.Scheduler) Option {
	return func(cfg *Config) { cfg.Scheduler = s }
}

// WithOnChange registers a callback run after every change. It must not
// call back into the flow.
func WithOnChange(fn func(View)) Option {
	return func(cfg *Config) { cfg.OnChange = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// Flow is one shopper's journey.
type Flow struct {
	id  string
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	step      Step
	question  int
	selfie    *capture.Photo
	prefs     Preferences
	extended  ExtendedPreferences
	results   []catalog.FrameSelection
	selected  *catalog.FrameSelection
	cart      []catalog.FrameSelection
	rating    int
	gen       uint64
	timer     vto.Timer
	consumers map[Step]func()
}

// New starts a flow at the selfie step.
func New(opts ...Option) *Flow {
	cfg := Config{
		ProcessingDelay: DefaultProcessingDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = vto.SystemScheduler()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := uuid.New().String()
	return &Flow{
		id:        id,
		cfg:       cfg,
		log:       cfg.Logger.With("component", "flow", "flow", id),
		step:      StepSelfie,
		prefs:     Preferences{FaceShape: DefaultFaceShape},
		consumers: make(map[Step]func()),
	}
}

// ID returns the flow ID.
func (f *Flow) ID() string {
	return f.id
}

// Step returns the current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// View returns a copy of the flow state.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

// Bind ties a camera consumer to step; release runs when the flow leaves
// the step or is reset. If the flow is no longer at step, release runs
// immediately and Bind returns false.
func (f *Flow) Bind(step Step, release func()) bool {
	f.mu.Lock()
	if f.step != step {
		f.mu.Unlock()
		release()
		return false
	}
	prev := f.consumers[step]
	f.consumers[step] = release
	f.mu.Unlock()

	if prev != nil {
		prev()
	}
	return true
}

// SetSelfie stores the selfie and opens the chat. A placeholder photo is
// accepted when the camera was unavailable.
func (f *Flow) SetSelfie(p capture.Photo) error {
	return f.update("selfie", func() ([]func(), error) {
		if f.step != StepSelfie {
			return nil, ErrWrongStep
		}
		f.selfie = &p
		return f.moveLocked(StepChat), nil
	})
}

// Answer answers the current choice question.
func (f *Flow) Answer(option string) error {
	return f.update("answer", func() ([]func(), error) {
		if f.step != StepChat {
			return nil, ErrWrongStep
		}
		q := questions[f.question]
		if q.Type != Choice {
			return nil, fmt.Errorf("%w: question %d expects text", ErrWrongStep, f.question)
		}
		if !q.Has(option) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOption, option)
		}

		switch f.question {
		case qBudget:
			f.prefs.Budget = option
		case qStyle:
			f.prefs.Style = strings.ToLower(option)
		case qInspiration:
			if option != AddPhoto {
				f.prefs.InspirationPhoto = ""
			}
		case qEnvironment:
			f.extended.Environment = option
		case qScreenTime:
			f.extended.ScreenTime = option
		case qDriving:
			f.extended.Driving = option
		}
		return f.nextQuestionLocked(), nil
	})
}

// SubmitText answers the free-text question. Blank answers are rejected
// and leave the flow unchanged.
func (f *Flow) SubmitText(text string) error {
	return f.update("text", func() ([]func(), error) {
		if f.step != StepChat || questions[f.question].Type != Text {
			return nil, ErrWrongStep
		}
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyAnswer
		}
		f.extended.SpecificNeeds = text
		return f.nextQuestionLocked(), nil
	})
}

// AttachInspiration stores an inspiration photo during the chat.
func (f *Flow) AttachInspiration(p capture.Photo) error {
	return f.update("inspiration", func() ([]func(), error) {
		if f.step != StepChat {
			return nil, ErrWrongStep
		}
		f.prefs.InspirationPhoto = p.DataURL
		return nil, nil
	})
}

// Select picks a recommended frame and opens the try-on.
func (f *Flow) Select(frameID int) (catalog.FrameSelection, error) {
	var frame catalog.FrameSelection
	err := f.update("select", func() ([]func(), error) {
		if f.step != StepResults {
			return nil, ErrWrongStep
		}
		fr, err := f.cfg.Catalog.Find(frameID)
		if err != nil {
			return nil, err
		}
		frame = fr
		f.selected = &fr
		return f.moveLocked(StepTryOn), nil
	})
	return frame, err
}

// Back returns from the try-on to the results.
func (f *Flow) Back() error {
	return f.update("back", func() ([]func(), error) {
		if f.step != StepTryOn {
			return nil, ErrWrongStep
		}
		return f.moveLocked(StepResults), nil
	})
}

// AddToCart adds the selected frame and moves to checkout.
func (f *Flow) AddToCart() error {
	return f.update("cart", func() ([]func(), error) {
		if f.step != StepTryOn {
			return nil, ErrWrongStep
		}
		if f.selected == nil {
			return nil, ErrNoSelection
		}
		f.cart = append(f.cart, *f.selected)
		return f.moveLocked(StepCheckout), nil
	})
}

// Rate records the star rating and finishes the journey.
func (f *Flow) Rate(stars int) error {
	return f.update("rate", func() ([]func(), error) {
		if f.step != StepCheckout {
			return nil, ErrWrongStep
		}
		if stars < 1 || stars > 5 {
			return nil, ErrInvalidRating
		}
		f.rating = stars
		return f.moveLocked(StepFeedback), nil
	})
}

// Reset starts over from the selfie step. Any bound camera consumer is
// released.
func (f *Flow) Reset() {
	_ = f.update("reset", func() ([]func(), error) {
		release := f.moveLocked(StepSelfie)
		for step, fn := range f.consumers {
			release = append(release, fn)
			delete(f.consumers, step)
		}
		f.question = 0
		f.selfie = nil
		f.prefs = Preferences{FaceShape: DefaultFaceShape}
		f.extended = ExtendedPreferences{}
		f.results = nil
		f.selected = nil
		f.cart = nil
		f.rating = 0
		return release, nil
	})
}

// Close releases every bound consumer and stops the processing timer.
func (f *Flow) Close() {
	f.mu.Lock()
	f.gen++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	var release []func()
	for step, fn := range f.consumers {
		release = append(release, fn)
		delete(f.consumers, step)
	}
	f.mu.Unlock()

	for _, fn := range release {
		fn()
	}
}

func (f *Flow) update(op string, fn func() ([]func(), error)) error {
	f.mu.Lock()
	release, err := fn()
	var v View
	if err == nil {
		v = f.viewLocked()
	}
	f.mu.Unlock()

	for _, r := range release {
		r()
	}
	if err != nil {
		f.log.Debug("flow operation rejected", "op", op, "error", err)
		return err
	}
	if f.cfg.OnChange != nil {
		f.cfg.OnChange(v)
	}
	return nil
}

// moveLocked changes step, cancelling any pending processing and handing
// back the consumer bound to the step being left.
func (f *Flow) moveLocked(to Step) []func() {
	from := f.step
	f.gen++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}

	var release []func()
	if from != to {
		if fn, ok := f.consumers[from]; ok {
			release = append(release, fn)
			delete(f.consumers, from)
		}
	}
	f.step = to
	f.log.Info("flow step", "from", from, "to", to)
	return release
}

func (f *Flow) nextQuestionLocked() []func() {
	if f.question < len(questions)-1 {
		f.question++
		return nil
	}
	release := f.moveLocked(StepProcessing)
	gen := f.gen
	f.timer = f.cfg.Scheduler.AfterFunc(f.cfg.ProcessingDelay, func() {
		f.finishProcessing(gen)
	})
	return release
}

var errStale = errors.New("flow: stale")

func (f *Flow) finishProcessing(gen uint64) {
	_ = f.update("processed", func() ([]func(), error) {
		if f.gen != gen || f.step != StepProcessing {
			return nil, errStale
		}
		f.timer = nil
		f.results = f.cfg.Catalog.Recommend(f.prefs.Style)
		return f.moveLocked(StepResults), nil
	})
}

func (f *Flow) viewLocked() View {
	v := View{
		ID:            f.id,
		Step:          f.step,
		QuestionIndex: f.question,
		Preferences:   f.prefs,
		Extended:      f.extended,
		Rating:        f.rating,
		Cart:          make([]catalog.FrameSelection, len(f.cart)),
	}
	if f.step == StepChat {
		q := questions[f.question]
		v.Question = &q
	}
	if f.selfie != nil {
		p := *f.selfie
		v.Selfie = &p
	}
	if f.results != nil {
		v.Results = make([]catalog.FrameSelection, len(f.results))
		copy(v.Results, f.results)
	}
	if f.selected != nil {
		s := *f.selected
		v.Selected = &s
	}
	copy(v.Cart, f.cart)
	for _, item := range f.cart {
		v.CartTotal += item.Price
	}
	return v
}
