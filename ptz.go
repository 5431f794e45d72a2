package onvif

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"
	"github.com/elgs/gostrgen"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

const (
	actionContinuousMove = "http://www.onvif.org/ver20/ptz/wsdl/ContinuousMove"
	actionStop           = "http://www.onvif.org/ver20/ptz/wsdl/Stop"
)

// ContinuousMove starts a velocity move on the given profile
func (c *Client) ContinuousMove(ctx context.Context, ptzURL, profileToken string, v MoveVector) (*Response, error) {
	req := etree.NewElement("tptz:ContinuousMove")
	req.CreateElement("tptz:ProfileToken").SetText(profileToken)
	velocity := req.CreateElement("tptz:Velocity")
	panTilt := velocity.CreateElement("tt:PanTilt")
	panTilt.CreateAttr("x", formatFloat(v.Pan))
	panTilt.CreateAttr("y", formatFloat(v.Tilt))
	panTilt.CreateAttr("space", VelocityGenericSpace)
	velocity.CreateElement("tt:Zoom").CreateAttr("x", formatFloat(v.Zoom))

	return c.transport.Post(ctx, ptzURL, req, SOAP12, actionContinuousMove)
}

// Stop halts both pan/tilt and zoom motion on the given profile
func (c *Client) Stop(ctx context.Context, ptzURL, profileToken string) (*Response, error) {
	req := etree.NewElement("tptz:Stop")
	req.CreateElement("tptz:ProfileToken").SetText(profileToken)
	req.CreateElement("tptz:PanTilt").SetText("true")
	req.CreateElement("tptz:Zoom").SetText("true")

	return c.transport.Post(ctx, ptzURL, req, SOAP12, actionStop)
}

// Option configures a Controller
type Option func(*Controller)

// WithSink sets where the controller reports events
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithLogger sets the controller and client logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithStopDelay sets how long a move runs before the automatic Stop
func WithStopDelay(d time.Duration) Option {
	return func(c *Controller) { c.stopDelay = d }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// pendingStop is the automatic Stop owed by the most recent command.
// settled closes once this command's ContinuousMove and those of every
// earlier command have completed; prior is the previous command's settled.
type pendingStop struct {
	seq      uint64
	replaced chan struct{}
	prior    <-chan struct{}
	settled  chan struct{}
}

// Controller drives a camera's PTZ service. It resolves endpoints and the
// profile token in the background once, then accepts moves. Every move is
// followed by an automatic Stop after the stop delay; a newer move cancels
// the Stop still pending from an older one and schedules its own. No Stop
// is sent before every earlier ContinuousMove has completed, so a late move
// reply can never land after the Stop that was meant to end it.
type Controller struct {
	client    *Client
	sink      Sink
	logger    zerolog.Logger
	stopDelay time.Duration
	timeout   time.Duration

	state atomic.Pointer[State]
	done  chan struct{}

	initCancel context.CancelFunc
	closing    chan struct{}
	wg         sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	seq         uint64
	pending     *pendingStop
	lastSettled <-chan struct{}
}

// NewController creates a controller for the device and starts resolving
// its endpoints and profile token in the background.
func NewController(addr DeviceAddress, opts ...Option) *Controller {
	c := &Controller{
		sink:      nopSink{},
		logger:    zerolog.Nop(),
		stopDelay: DefaultStopDelay,
		timeout:   DefaultTimeout,
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("device", addr.HostPort()).Logger()
	c.client = NewClientWithTimeout(addr, c.timeout)
	c.client.SetLogger(c.logger)
	c.state.Store(&State{Phase: PhaseUninitialized})

	ctx, cancel := context.WithCancel(context.Background())
	c.initCancel = cancel
	c.wg.Add(1)
	go c.initialize(ctx)
	return c
}

// Client returns the client the controller sends requests with
func (c *Controller) Client() *Client {
	return c.client
}

// State returns the current lifecycle snapshot
func (c *Controller) State() State {
	return *c.state.Load()
}

// Done is closed once initialization has finished, successfully or not
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// WaitReady blocks until initialization finishes or ctx is done
func (c *Controller) WaitReady(ctx context.Context) (State, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
	st := c.State()
	if st.Phase == PhaseFailed {
		return st, st.Err
	}
	return st, nil
}

func (c *Controller) publish(next State) bool {
	for {
		cur := c.state.Load()
		if !cur.canAdvance(next) {
			c.logger.Warn().Stringer("from", cur.Phase).Stringer("to", next.Phase).Msg("ignored state regression")
			return false
		}
		if c.state.CompareAndSwap(cur, &next) {
			c.logger.Debug().Stringer("phase", next.Phase).Msg("state changed")
			return true
		}
	}
}

func (c *Controller) notify(level EventLevel, format string, args ...interface{}) {
	c.sink.Notify(Event{
		Device:  c.client.Address.HostPort(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}

func (c *Controller) initialize(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.done)

	c.publish(State{Phase: PhaseResolvingEndpoints})
	endpoints, err := c.client.ResolveEndpoints(ctx)
	if err != nil {
		c.fail(State{Phase: PhaseFailed, Err: err})
		return
	}
	c.publish(State{Phase: PhaseEndpointsResolved, Endpoints: endpoints})
	c.notify(LevelInfo, "Using %s and %s", endpoints.MediaURL, endpoints.PTZURL)

	profile, err := c.client.FetchProfile(ctx, endpoints.MediaURL)
	if err != nil {
		c.fail(State{Phase: PhaseFailed, Endpoints: endpoints, Err: err})
		return
	}
	c.publish(State{Phase: PhaseReady, Endpoints: endpoints, Profile: profile})
	c.notify(LevelInfo, "PTZ token: %s", profile.Token)
}

func (c *Controller) fail(st State) {
	c.publish(st)
	c.logger.Error().Err(st.Err).Msg("PTZ initialization failed")
	c.notify(LevelError, "PTZ init error: %v", st.Err)
}

func (c *Controller) MoveLeft() error  { return c.Move(VectorLeft) }
func (c *Controller) MoveRight() error { return c.Move(VectorRight) }
func (c *Controller) MoveUp() error    { return c.Move(VectorUp) }
func (c *Controller) MoveDown() error  { return c.Move(VectorDown) }
func (c *Controller) ZoomIn() error    { return c.Move(VectorZoomIn) }
func (c *Controller) ZoomOut() error   { return c.Move(VectorZoomOut) }

// Move starts a continuous move with v and schedules the automatic Stop.
// It returns at once; network failures are reported through the sink.
// ErrNotReady is returned, without any request, until the profile token is
// known.
func (c *Controller) Move(v MoveVector) error {
	if err := v.Validate(); err != nil {
		return errors.NewNotValid(err, "move vector")
	}
	st, ps, err := c.claim()
	if err != nil {
		return err
	}
	go c.runMove(st, v, ps)
	return nil
}

// Stop halts the camera as soon as earlier moves have been answered and
// cancels any pending automatic Stop
func (c *Controller) Stop() error {
	st, ps, err := c.claim()
	if err != nil {
		return err
	}
	go func() {
		defer c.wg.Done()
		c.settle(ps)
		if c.release(ps) {
			c.sendStop(st, c.logger)
		}
	}()
	return nil
}

// claim checks readiness and takes over the pending Stop obligation. The
// caller must run a goroutine that calls wg.Done.
func (c *Controller) claim() (State, *pendingStop, error) {
	st := c.State()
	if !st.Ready() {
		c.notify(LevelError, "No PTZ token, cannot move")
		return st, nil, ErrNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return st, nil, ErrClosed
	}

	c.seq++
	ps := &pendingStop{
		seq:      c.seq,
		replaced: make(chan struct{}),
		prior:    c.lastSettled,
		settled:  make(chan struct{}),
	}
	if c.pending != nil {
		close(c.pending.replaced)
	}
	c.pending = ps
	c.lastSettled = ps.settled
	c.wg.Add(1)
	return st, ps, nil
}

// release clears ps if it still owns the pending Stop
func (c *Controller) release(ps *pendingStop) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != ps {
		return false
	}
	c.pending = nil
	return true
}

func (c *Controller) runMove(st State, v MoveVector, ps *pendingStop) {
	defer c.wg.Done()

	logger := c.logger.With().Str("move_id", newMoveID()).Stringer("vector", v).Logger()
	resp, err := c.client.ContinuousMove(context.Background(), st.Endpoints.PTZURL, st.Profile.Token, v)
	c.report("ContinuousMove", logger, resp, err)
	c.settle(ps)

	timer := time.NewTimer(c.stopDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ps.replaced:
		logger.Debug().Msg("automatic stop taken over by a newer command")
		return
	case <-c.closing:
		logger.Debug().Msg("controller closing, stopping now")
	}

	if !c.release(ps) {
		return
	}
	c.sendStop(st, logger)
}

// settle waits for every earlier command's ContinuousMove, then marks ps
// as settled
func (c *Controller) settle(ps *pendingStop) {
	if ps.prior != nil {
		<-ps.prior
	}
	close(ps.settled)
}

func (c *Controller) sendStop(st State, logger zerolog.Logger) {
	resp, err := c.client.Stop(context.Background(), st.Endpoints.PTZURL, st.Profile.Token)
	c.report("Stop", logger, resp, err)
}

// report logs a PTZ reply and forwards it to the sink, acknowledgements at
// info level and failures at error level. Failures never change the
// controller state.
func (c *Controller) report(op string, logger zerolog.Logger, resp *Response, err error) {
	switch {
	case err != nil:
		logger.Warn().Err(err).Str("op", op).Msg("PTZ request failed")
		c.notify(LevelError, "%s failed: %v", op, err)
	case resp.AuthError() != nil:
		logger.Warn().Int("status", resp.StatusCode).Str("op", op).Msg("PTZ request not authorized")
		c.notify(LevelError, "%s: %v", op, resp.AuthError())
	default:
		if reason, ok := resp.Fault(); ok {
			logger.Warn().Str("fault", reason).Str("op", op).Msg("PTZ request faulted")
			c.notify(LevelError, "%s fault: %s", op, reason)
			return
		}
		if resp.StatusCode >= 400 {
			logger.Warn().Int("status", resp.StatusCode).Str("op", op).Msg("PTZ request rejected")
			c.notify(LevelError, "%s: HTTP %d", op, resp.StatusCode)
			return
		}
		summary := resp.Summary(100)
		logger.Debug().Int("status", resp.StatusCode).Str("op", op).Str("response", summary).Msg("PTZ request done")
		c.notify(LevelInfo, "%s response: %s", op, summary)
	}
}

// Close stops the controller. A pending automatic Stop is sent immediately
// rather than dropped. Close waits for in-flight requests.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.closing)
	c.initCancel()
	c.wg.Wait()
	return nil
}

func newMoveID() string {
	id, err := gostrgen.RandGen(8, gostrgen.LowerDigit, "", "")
	if err != nil {
		return "-"
	}
	return id
}
