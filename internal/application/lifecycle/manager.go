package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/dispatcher"
	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/event"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// DefaultWriteTimeout bounds a remote status write when none is configured
const DefaultWriteTimeout = 10 * time.Second

// Payload keys of lifecycle events
const (
	PayloadClaim   = "claim"
	PayloadEntry   = "entry"
	PayloadOutcome = "outcome"
)

// Metrics receives lifecycle measurements
type Metrics interface {
	ObserveTransition(resolution Resolution, elapsed time.Duration)
	SetPending(n int)
	TranscriptAppended(duplicate bool)
}

// Outcome describes how a transition request ended
type Outcome struct {
	ClaimID    string          `json:"claim_id"`
	From       workflow.Status `json:"from"`
	To         workflow.Status `json:"to"`
	Status     workflow.Status `json:"status"`
	Resolution Resolution      `json:"resolution"`
	Err        error           `json:"-"`
}

// Pending is a transition whose remote write may still be running
type Pending struct {
	Handle Handle

	done    chan struct{}
	outcome Outcome
}

func newPending(h Handle) *Pending {
	return &Pending{Handle: h, done: make(chan struct{})}
}

func resolvedPending(o Outcome) *Pending {
	p := &Pending{done: make(chan struct{}), outcome: o}
	close(p.done)
	return p
}

// Done is closed when the outcome is known
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the write resolves or ctx ends. The returned error is the
// outcome's error, or ctx's.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, p.outcome.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (p *Pending) complete(o Outcome) {
	p.outcome = o
	close(p.done)
}

// queuedWrite is a remote status write waiting for, or holding, its claim's
// write slot
type queuedWrite struct {
	p     *Pending
	actor string
	began time.Time
}

// writeChain orders the remote writes of one claim. At most one runs; next
// is the newest request waiting behind it.
type writeChain struct {
	next *queuedWrite
}

// Manager owns the Store and serializes every mutation on one goroutine.
// Remote writes run outside that goroutine and report back through it.
type Manager struct {
	store        *Store
	remote       port.ClaimStore
	dispatcher   dispatcher.Dispatcher
	metrics      Metrics
	logger       *zap.Logger
	writeTimeout time.Duration

	ops     chan func()
	stopped chan struct{}
	writes  sync.WaitGroup

	// chains holds the claims with a status write running; loop only
	chains map[string]*writeChain
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the manager logger
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDispatcher publishes lifecycle events on d
func WithDispatcher(d dispatcher.Dispatcher) ManagerOption {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// WithMetrics records lifecycle measurements
func WithMetrics(metrics Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithWriteTimeout bounds each remote status write
func WithWriteTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// NewManager creates a manager over store, writing through to remote
func NewManager(store *Store, remote port.ClaimStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		remote:       remote,
		logger:       zap.NewNop(),
		writeTimeout: DefaultWriteTimeout,
		ops:          make(chan func()),
		stopped:      make(chan struct{}),
		chains:       make(map[string]*writeChain),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes mailbox operations until ctx is cancelled. Writes still in
// flight are abandoned; their resolutions are dropped. Queued writes are
// never started and resolve with ErrStopped.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.stopped)
	defer m.abandonQueued()

	m.logger.Info("Lifecycle manager started", zap.Duration("write_timeout", m.writeTimeout))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Lifecycle manager stopped")
			return nil
		case op := <-m.ops:
			op()
		}
	}
}

// Wait blocks until every background write and refresh has returned
func (m *Manager) Wait() {
	m.writes.Wait()
}

func (m *Manager) spawn(fn func()) {
	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		fn()
	}()
}

// do runs fn on the loop and waits for it
func (m *Manager) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		fn()
		close(finished)
	}

	select {
	case m.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
}

// post queues fn on the loop without waiting. It reports false once the loop has stopped.
func (m *Manager) post(fn func()) bool {
	select {
	case m.ops <- fn:
		return true
	case <-m.stopped:
		return false
	}
}

// Load folds the remote claims into the local view. Claims that changed
// locally while the list was being read keep their local state.
func (m *Manager) Load(ctx context.Context) error {
	var revs map[string]uint64
	if err := m.do(ctx, func() { revs = m.store.Revisions() }); err != nil {
		return err
	}

	claims, err := m.remote.ListClaims(ctx)
	if err != nil {
		return transient("list claims", "*", err)
	}

	skipped := 0
	err = m.do(ctx, func() {
		for _, c := range claims {
			if !m.store.ApplySnapshot(c, revs[c.ID]) {
				skipped++
			}
		}
	})
	if err != nil {
		return err
	}
	m.logger.Info("Claims loaded", zap.Int("count", len(claims)), zap.Int("skipped", skipped))
	return nil
}

// List returns the board, newest first
func (m *Manager) List(ctx context.Context) ([]*claim.Claim, error) {
	var out []*claim.Claim
	err := m.do(ctx, func() { out = m.store.List() })
	return out, err
}

// Get returns one claim from the local view
func (m *Manager) Get(ctx context.Context, id string) (*claim.Claim, error) {
	var (
		c  *claim.Claim
		ok bool
	)
	if err := m.do(ctx, func() { c, ok = m.store.Get(id) }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, id)
	}
	return c, nil
}

// IsPending reports whether the claim has an unresolved write
func (m *Manager) IsPending(ctx context.Context, id string) (bool, error) {
	var pending bool
	err := m.do(ctx, func() { pending = m.store.IsPending(id) })
	return pending, err
}

// Transcript returns the merged transcript for a claim
func (m *Manager) Transcript(ctx context.Context, claimID string) ([]claim.TranscriptEntry, error) {
	var out []claim.TranscriptEntry
	err := m.do(ctx, func() { out = m.store.Transcript(claimID) })
	return out, err
}

// Create stores a new claim remotely and adds it to the board
func (m *Manager) Create(ctx context.Context, draft claim.Draft) (*claim.Claim, error) {
	c := claim.New(draft, time.Now())
	if err := m.remote.InsertClaim(ctx, c); err != nil {
		return nil, transient("insert", c.ID, err)
	}
	if err := m.do(ctx, func() { m.store.UpsertLocal(c) }); err != nil {
		return nil, err
	}

	m.logger.Info("Claim created", zap.String("claim_id", c.ID))
	m.publish(event.NewEvent(event.TypeClaimCreated, c.ID, map[string]any{PayloadClaim: c.Clone()}))
	return c.Clone(), nil
}

// Edit applies a patch locally and writes it through. A failed write
// reloads the claim from the remote store.
func (m *Manager) Edit(ctx context.Context, id string, patch claim.Patch) (*claim.Claim, error) {
	var (
		edited *claim.Claim
		err    error
	)
	if doErr := m.do(ctx, func() { edited, err = m.store.EditFields(id, patch) }); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}

	if werr := m.remote.UpdateClaimFields(ctx, edited); werr != nil {
		m.logger.Error("Claim edit failed", zap.String("claim_id", id), zap.Error(werr))
		m.refresh(id)
		return nil, transient("update fields", id, werr)
	}
	return edited, nil
}

// RequestTransition validates and applies a status change optimistically,
// then starts the remote write. The optimistic status is visible to readers
// as soon as this returns.
func (m *Manager) RequestTransition(ctx context.Context, claimID string, target workflow.Status) (*Pending, error) {
	var (
		p   *Pending
		err error
	)
	doErr := m.do(ctx, func() {
		var (
			h       Handle
			started bool
		)
		h, started, err = m.store.BeginTransition(claimID, target)
		if err != nil {
			return
		}
		if !started {
			p = resolvedPending(Outcome{
				ClaimID:    claimID,
				From:       target,
				To:         target,
				Status:     target,
				Resolution: ResolutionNoop,
			})
			return
		}
		p = newPending(h)
		m.setPendingGauge()
		m.enqueueWrite(&queuedWrite{p: p, actor: port.ActorFromContext(ctx), began: time.Now()})
	})
	if doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Transition requests a status change and waits for its write to resolve
func (m *Manager) Transition(ctx context.Context, claimID string, target workflow.Status) (Outcome, error) {
	p, err := m.RequestTransition(ctx, claimID, target)
	if err != nil {
		return Outcome{}, err
	}
	return p.Wait(ctx)
}

// enqueueWrite runs on the loop. The write starts at once when the claim has
// none running; otherwise it waits, replacing any older waiting write, which
// resolves stale without reaching the remote store.
func (m *Manager) enqueueWrite(w *queuedWrite) {
	id := w.p.Handle.ClaimID
	ch, busy := m.chains[id]
	if !busy {
		m.chains[id] = &writeChain{}
		m.spawn(func() { m.write(w) })
		return
	}
	if ch.next != nil {
		m.resolve(ch.next.p, nil, ch.next.began)
	}
	ch.next = w
}

// finishWrite runs on the loop when a remote write returns. It resolves the
// write and hands the claim's slot to the waiting write, if any.
func (m *Manager) finishWrite(w *queuedWrite, writeErr error) {
	m.resolve(w.p, writeErr, w.began)
	m.advance(w.p.Handle.ClaimID)
}

// advance runs on the loop once the claim's running write has returned
func (m *Manager) advance(id string) {
	ch, ok := m.chains[id]
	if !ok || ch.next == nil {
		delete(m.chains, id)
		return
	}
	next := ch.next
	ch.next = nil
	m.spawn(func() { m.write(next) })
}

func (m *Manager) abandonQueued() {
	for id, ch := range m.chains {
		if ch.next != nil {
			ch.next.p.complete(stoppedOutcome(ch.next.p.Handle))
		}
		delete(m.chains, id)
	}
}

func stoppedOutcome(h Handle) Outcome {
	return Outcome{
		ClaimID:    h.ClaimID,
		From:       h.From,
		To:         h.To,
		Resolution: ResolutionStale,
		Err:        ErrStopped,
	}
}

// write performs the remote status write, bounded by the write timeout. It
// outlives the request, so only the actor is carried over.
func (m *Manager) write(w *queuedWrite) {
	h := w.p.Handle

	ctx, cancel := context.WithTimeout(port.WithActor(context.Background(), w.actor), m.writeTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- m.remote.UpdateClaimStatus(ctx, h.ClaimID, h.To)
	}()

	var err error
	select {
	case err = <-result:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			err = ErrWriteTimeout
		}
	case <-ctx.Done():
		// Report the timeout now, but keep the claim's slot until the
		// store call returns so the next write cannot overtake it.
		if !m.post(func() { m.resolve(w.p, ErrWriteTimeout, w.began) }) {
			w.p.complete(stoppedOutcome(h))
			return
		}
		<-result
		m.post(func() { m.advance(h.ClaimID) })
		return
	}

	if !m.post(func() { m.finishWrite(w, err) }) {
		w.p.complete(stoppedOutcome(h))
	}
}

// resolve runs on the loop
func (m *Manager) resolve(p *Pending, writeErr error, began time.Time) {
	h := p.Handle
	res, err := m.store.ResolveTransition(h, writeErr)

	o := Outcome{ClaimID: h.ClaimID, From: h.From, To: h.To, Resolution: res, Err: err}
	c, ok := m.store.Get(h.ClaimID)
	if ok {
		o.Status = c.Status
	}
	p.complete(o)
	m.setPendingGauge()
	if m.metrics != nil {
		m.metrics.ObserveTransition(res, time.Since(began))
	}

	fields := []zap.Field{
		zap.String("claim_id", h.ClaimID),
		zap.Uint64("seq", h.Seq),
		zap.String("from", h.From.String()),
		zap.String("to", h.To.String()),
		zap.String("resolution", string(res)),
	}
	switch res {
	case ResolutionReverted:
		m.logger.Error("Transition reverted", append(fields, zap.Error(err))...)
		m.spawn(func() { m.refresh(h.ClaimID) })
	case ResolutionStale:
		m.logger.Info("Stale transition result ignored", append(fields, zap.NamedError("write_error", writeErr))...)
		return
	default:
		m.logger.Info("Transition confirmed", fields...)
	}

	payload := map[string]any{PayloadOutcome: o}
	if ok {
		payload[PayloadClaim] = c
	}
	m.publish(event.NewEvent(event.TypeTransitionResolved, h.ClaimID, payload))
}

// refresh reloads one claim from the remote store so the local view
// converges after a failed write. The row is dropped if the claim changes
// locally while it is being read.
func (m *Manager) refresh(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()

	var rev uint64
	if err := m.do(ctx, func() { rev = m.store.Revision(id) }); err != nil {
		return
	}
	c, err := m.remote.GetClaim(ctx, id)
	if err != nil {
		m.logger.Error("Claim refresh failed", zap.String("claim_id", id), zap.Error(err))
		return
	}
	m.post(func() {
		if !m.store.ApplySnapshot(c, rev) {
			m.logger.Debug("Claim refresh superseded by a local change", zap.String("claim_id", id))
		}
	})
}

// IngestClaim applies a claim row from the live channel
func (m *Manager) IngestClaim(ctx context.Context, c *claim.Claim) error {
	var applied bool
	if err := m.do(ctx, func() { applied = m.store.ApplyRemote(c) }); err != nil {
		return err
	}
	if !applied {
		m.logger.Info("Remote claim update deferred until pending write resolves",
			zap.String("claim_id", c.ID),
			zap.String("status", c.Status.String()),
		)
	}
	return nil
}

// IngestTranscript appends a transcript entry from the live channel.
// Entries already seen are ignored.
func (m *Manager) IngestTranscript(ctx context.Context, te claim.TranscriptEntry) error {
	var added bool
	if err := m.do(ctx, func() { added = m.store.AppendTranscript(te) }); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.TranscriptAppended(!added)
	}
	return nil
}

// BackfillTranscript folds stored entries into the view and returns how many
// were new. Entries already present are skipped without counting as
// duplicate deliveries.
func (m *Manager) BackfillTranscript(ctx context.Context, entries []claim.TranscriptEntry) (int, error) {
	added := 0
	err := m.do(ctx, func() {
		for _, te := range entries {
			if m.store.AppendTranscript(te) {
				added++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if m.metrics != nil {
		for i := 0; i < added; i++ {
			m.metrics.TranscriptAppended(false)
		}
	}
	return added, nil
}

// Register subscribes the manager to inbound live events on d
func (m *Manager) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeClaimUpdated, "lifecycle.apply_claim", func(ctx context.Context, evt *event.Event) error {
		c, ok := event.Value[*claim.Claim](evt, PayloadClaim)
		if !ok {
			return fmt.Errorf("event %s has no claim payload", evt.ID)
		}
		return m.IngestClaim(ctx, c)
	})
	d.SubscribeNamed(event.TypeTranscriptCreated, "lifecycle.append_transcript", func(ctx context.Context, evt *event.Event) error {
		te, ok := event.Value[claim.TranscriptEntry](evt, PayloadEntry)
		if !ok {
			return fmt.Errorf("event %s has no transcript payload", evt.ID)
		}
		return m.IngestTranscript(ctx, te)
	})
}

// publish runs on or off the loop; handlers may call back into the manager
func (m *Manager) publish(evt *event.Event) {
	if m.dispatcher == nil {
		return
	}
	m.dispatcher.DispatchAsync(context.Background(), evt)
}

func (m *Manager) setPendingGauge() {
	if m.metrics != nil {
		m.metrics.SetPending(m.store.PendingCount())
	}
}
