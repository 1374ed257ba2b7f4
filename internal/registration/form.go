// Package registration drives the multi-step delegate registration form.
package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"munportal/internal/api"
	"munportal/internal/logging"
	"munportal/internal/metrics"
)

type Step int

const (
	StepPersonalDetails Step = iota + 1
	StepCommitteePreferences
	StepPayment
	StepReview
)

func (s Step) String() string {
	switch s {
	case StepPersonalDetails:
		return "personal-details"
	case StepCommitteePreferences:
		return "committee-preferences"
	case StepPayment:
		return "payment"
	case StepReview:
		return "review"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

const submitFallback = "Registration failed. Please try again."

var (
	ErrEmailTaken = errors.New("a registration with this email already exists")
	// ErrEmailCheck means uniqueness could not be verified; the step is
	// blocked until a retry succeeds.
	ErrEmailCheck        = errors.New("could not verify the email address, please try again")
	ErrNotReviewing      = errors.New("the form is not on the review step")
	ErrSubmitting        = errors.New("a submission is already in progress")
	ErrAlreadySubmitted  = errors.New("the registration was already submitted")
	ErrInvalidStep       = errors.New("invalid step")
	ErrNotPressCommittee = errors.New("only International Press takes a role")
	ErrPressCommittee    = errors.New("International Press takes a role, not countries")
)

// SubmitError carries the message to show after a failed submission.
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string { return e.Message }
func (e *SubmitError) Unwrap() error { return e.Err }

// Backend is the part of the API the form talks to.
type Backend interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	Register(ctx context.Context, kind api.Kind, reg api.Registration) (*api.Submission, error)
}

// Confirmation is shown after a successful submission.
type Confirmation struct {
	ID         string
	Message    string
	RedirectIn time.Duration
}

type Options struct {
	// RedirectDelay is the wait between confirmation and OnNavigate.
	RedirectDelay time.Duration
	// OnNavigate runs once the confirmation has been shown long enough.
	OnNavigate func()
	Logger     logging.Logger
}

// Form is the state of one registration in progress. Values entered on any
// step survive every transition, failed checks and failed submissions.
type Form struct {
	mu         sync.Mutex
	kind       api.Kind
	backend    Backend
	opts       Options
	step       Step
	data       api.Registration
	submitting bool
	submitted  *Confirmation
	redirect   *time.Timer
}

func NewForm(kind api.Kind, backend Backend, opts Options) (*Form, error) {
	if !kind.AcceptsRegistrations() {
		return nil, fmt.Errorf("%s registrations are closed", kind)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	f := &Form{
		kind:    kind,
		backend: backend,
		opts:    opts,
		step:    StepPersonalDetails,
		data:    api.Registration{Kind: kind},
	}
	f.data.Preferences = make([]api.CommitteePreference, RankedPreferences)
	return f, nil
}

func (f *Form) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// Data returns a copy of the values entered so far.
func (f *Form) Data() api.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRegistration(f.data)
}

func (f *Form) SetPersonal(p api.PersonalDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.PersonalDetails = p
}

func (f *Form) SetPayment(p api.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.Payment = p
}

// SelectCommittee sets the committee ranked rank (1-based). Switching to or
// from International Press clears the sub-fields that no longer apply.
func (f *Form) SelectCommittee(rank int, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.pref(rank)
	if err != nil {
		return err
	}
	p.Committee = code
	if c, ok := LookupCommittee(code); ok && c.Press {
		p.Countries = nil
	} else {
		p.Role = ""
	}
	return nil
}

func (f *Form) SetCountries(rank int, countries []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.pref(rank)
	if err != nil {
		return err
	}
	if c, ok := LookupCommittee(p.Committee); ok && c.Press {
		return ErrPressCommittee
	}
	p.Countries = append([]string(nil), countries...)
	return nil
}

func (f *Form) SetRole(rank int, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.pref(rank)
	if err != nil {
		return err
	}
	if c, ok := LookupCommittee(p.Committee); !ok || !c.Press {
		return ErrNotPressCommittee
	}
	p.Role = role
	return nil
}

func (f *Form) pref(rank int) (*api.CommitteePreference, error) {
	if rank < 1 || rank > len(f.data.Preferences) {
		return nil, fmt.Errorf("%w: preference %d", ErrInvalidStep, rank)
	}
	return &f.data.Preferences[rank-1], nil
}

// Next validates the current step and advances. On the personal details
// step the email must also be unused.
func (f *Form) Next(ctx context.Context) error {
	f.mu.Lock()
	step := f.step
	if step == StepReview {
		f.mu.Unlock()
		return fmt.Errorf("%w: review is the last step", ErrInvalidStep)
	}
	data := cloneRegistration(f.data)
	f.mu.Unlock()

	if err := ValidateStep(step, data); err != nil {
		metrics.IncTransition(step.String(), "invalid")
		return err
	}

	if step == StepPersonalDetails {
		exists, err := f.backend.EmailExists(ctx, data.Email)
		if err != nil {
			metrics.IncTransition(step.String(), "email_check_failed")
			f.opts.Logger.Warn("email check failed", "error", err)
			return fmt.Errorf("%w: %v", ErrEmailCheck, err)
		}
		if exists {
			metrics.IncTransition(step.String(), "email_taken")
			return ErrEmailTaken
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Another transition won the race while the email was being checked.
	if f.step != step {
		return fmt.Errorf("%w: form moved to %s", ErrInvalidStep, f.step)
	}
	f.step = step + 1
	metrics.IncTransition(step.String(), "advanced")
	return nil
}

// Previous goes back one step without validating. From review it returns
// to payment; on the first step it does nothing.
func (f *Form) Previous() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting || f.step == StepPersonalDetails {
		return
	}
	f.step--
	metrics.IncTransition((f.step + 1).String(), "back")
}

// Edit leaves review for an earlier step, keeping every value.
func (f *Form) Edit(step Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepReview || f.submitting {
		return ErrNotReviewing
	}
	if step < StepPersonalDetails || step >= StepReview {
		return fmt.Errorf("%w: cannot edit %s", ErrInvalidStep, step)
	}
	f.step = step
	metrics.IncTransition(StepReview.String(), "edit")
	return nil
}

// Submit sends the registration. It is only allowed from review. On
// failure the form stays on review with all data for a retry.
func (f *Form) Submit(ctx context.Context) (*Confirmation, error) {
	f.mu.Lock()
	switch {
	case f.submitted != nil:
		f.mu.Unlock()
		return nil, ErrAlreadySubmitted
	case f.submitting:
		f.mu.Unlock()
		return nil, ErrSubmitting
	case f.step != StepReview:
		f.mu.Unlock()
		return nil, ErrNotReviewing
	}
	f.submitting = true
	data := cloneRegistration(f.data)
	f.mu.Unlock()

	var sub *api.Submission
	err := ValidateAll(data)
	if err == nil {
		sub, err = f.backend.Register(ctx, f.kind, data)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false

	if err != nil {
		metrics.IncTransition(StepReview.String(), "submit_failed")
		f.opts.Logger.Warn("registration submit failed", "kind", f.kind, "error", err)
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, &SubmitError{Message: api.Message(err, submitFallback), Err: err}
	}

	conf := &Confirmation{ID: sub.ID, Message: sub.Message, RedirectIn: f.opts.RedirectDelay}
	if conf.Message == "" {
		conf.Message = "Registration submitted successfully"
	}
	f.submitted = conf
	metrics.IncTransition(StepReview.String(), "submitted")
	f.opts.Logger.Info("registration submitted", "kind", f.kind, "id", sub.ID)

	if f.opts.OnNavigate != nil {
		f.redirect = time.AfterFunc(f.opts.RedirectDelay, f.opts.OnNavigate)
	}
	return conf, nil
}

// Close stops a pending post-submit navigation.
func (f *Form) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redirect != nil {
		f.redirect.Stop()
	}
}

func cloneRegistration(r api.Registration) api.Registration {
	out := r
	out.Preferences = make([]api.CommitteePreference, len(r.Preferences))
	for i, p := range r.Preferences {
		p.Countries = append([]string(nil), p.Countries...)
		out.Preferences[i] = p
	}
	return out
}
