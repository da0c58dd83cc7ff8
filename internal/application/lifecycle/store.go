package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// Handle identifies one outstanding remote status write
type Handle struct {
	ClaimID string
	Seq     uint64
	From    workflow.Status
	To      workflow.Status
}

// Resolution is how a transition ended
type Resolution string

const (
	// ResolutionConfirmed means the remote write succeeded
	ResolutionConfirmed Resolution = "confirmed"
	// ResolutionReverted means the remote write failed and the claim went back to its previous status
	ResolutionReverted Resolution = "reverted"
	// ResolutionStale means a newer transition superseded this one; its result was ignored
	ResolutionStale Resolution = "stale"
	// ResolutionNoop means the claim was already in the requested status
	ResolutionNoop Resolution = "noop"
)

type entry struct {
	claim *claim.Claim

	// seq counts transitions begun on this claim; pending is the seq of the
	// outstanding write or 0 when none is in flight
	seq     uint64
	pending uint64

	// deferred holds the latest remote row received while a write was pending
	deferred *claim.Claim

	// rev counts every change to the entry. Snapshot reads compare it to
	// detect that the claim moved on while they were off the loop.
	rev uint64
}

// Store is the local view of all claims and transcripts. It is not safe for
// concurrent use; the Manager loop owns it.
type Store struct {
	validator   workflow.Validator
	inFlight    InFlightPolicy
	now         func() time.Time
	claims      map[string]*entry
	transcripts map[string][]claim.TranscriptEntry
	seen        map[string]struct{}
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithInFlightPolicy sets how a second request for a pending claim is handled
func WithInFlightPolicy(p InFlightPolicy) StoreOption {
	return func(s *Store) {
		s.inFlight = p
	}
}

// WithClock overrides the time source used for UpdatedAt
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store
func NewStore(validator workflow.Validator, opts ...StoreOption) *Store {
	s := &Store{
		validator:   validator,
		inFlight:    InFlightSupersede,
		now:         time.Now,
		claims:      make(map[string]*entry),
		transcripts: make(map[string][]claim.TranscriptEntry),
		seen:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns copies of all claims, newest first. Ties are ordered by ID.
func (s *Store) List() []*claim.Claim {
	out := make([]*claim.Claim, 0, len(s.claims))
	for _, e := range s.claims {
		out = append(out, e.claim.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Get returns a copy of the claim
func (s *Store) Get(id string) (*claim.Claim, bool) {
	e, ok := s.claims[id]
	if !ok {
		return nil, false
	}
	return e.claim.Clone(), true
}

// IsPending reports whether the claim has an unresolved write
func (s *Store) IsPending(id string) bool {
	e, ok := s.claims[id]
	return ok && e.pending != 0
}

// PendingCount returns the number of claims with an unresolved write
func (s *Store) PendingCount() int {
	n := 0
	for _, e := range s.claims {
		if e.pending != 0 {
			n++
		}
	}
	return n
}

// UpsertLocal inserts or replaces a claim written by this process, stamping
// UpdatedAt. Any pending write on it is dropped, so that write's resolution
// will be ignored.
func (s *Store) UpsertLocal(c *claim.Claim) {
	cp := c.Clone()
	cp.UpdatedAt = s.now()
	s.put(cp)
}

// put replaces the claim as given
func (s *Store) put(c *claim.Claim) {
	e, ok := s.claims[c.ID]
	if !ok {
		s.claims[c.ID] = &entry{claim: c, rev: 1}
		return
	}
	e.claim = c
	e.pending = 0
	e.deferred = nil
	e.rev++
}

// ApplyRemote folds a row from the system of record into the view, keeping
// its timestamps. While a write is pending the row is held back and applied
// when the write resolves. It reports whether the row was applied now.
func (s *Store) ApplyRemote(c *claim.Claim) bool {
	e, ok := s.claims[c.ID]
	if ok && e.pending != 0 {
		e.deferred = c.Clone()
		return false
	}
	s.put(remoteCopy(c, s.now))
	return true
}

// Revisions returns the current revision of every claim, for a snapshot read
// that will be applied with ApplySnapshot
func (s *Store) Revisions() map[string]uint64 {
	out := make(map[string]uint64, len(s.claims))
	for id, e := range s.claims {
		out[id] = e.rev
	}
	return out
}

// Revision returns the claim's revision, 0 when the claim is unknown
func (s *Store) Revision(id string) uint64 {
	if e, ok := s.claims[id]; ok {
		return e.rev
	}
	return 0
}

// ApplySnapshot applies a row read from the remote store after rev was
// taken. The row is dropped when the claim changed locally since then or has
// a write in flight; a later read will carry the newer state.
func (s *Store) ApplySnapshot(c *claim.Claim, rev uint64) bool {
	if e, ok := s.claims[c.ID]; ok && (e.rev != rev || e.pending != 0) {
		return false
	}
	s.put(remoteCopy(c, s.now))
	return true
}

func remoteCopy(c *claim.Claim, now func() time.Time) *claim.Claim {
	cp := c.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now()
	}
	return cp
}

// BeginTransition validates the move and applies it optimistically. It
// returns ok=false without a handle when the claim is already in target.
func (s *Store) BeginTransition(claimID string, target workflow.Status) (Handle, bool, error) {
	e, found := s.claims[claimID]
	if !found {
		return Handle{}, false, fmt.Errorf("%w: %s", ErrClaimNotFound, claimID)
	}
	if !target.IsValid() {
		return Handle{}, false, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}

	current := e.claim.Status
	if current == target {
		return Handle{}, false, nil
	}
	if err := s.validator.Check(current, target); err != nil {
		if errors.Is(err, workflow.ErrInvalidState) {
			return Handle{}, false, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
		}
		return Handle{}, false, fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	if e.pending != 0 && s.inFlight == InFlightReject {
		return Handle{}, false, fmt.Errorf("%w: %s", ErrTransitionInFlight, claimID)
	}

	e.seq++
	e.rev++
	e.pending = e.seq
	e.claim.Status = target
	e.claim.UpdatedAt = s.now()

	return Handle{ClaimID: claimID, Seq: e.seq, From: current, To: target}, true, nil
}

// ResolveTransition settles a write. On failure the claim goes back to
// h.From and the failure is returned as a transient error. A handle that is
// no longer the claim's pending write is stale and changes nothing.
func (s *Store) ResolveTransition(h Handle, writeErr error) (Resolution, error) {
	e, ok := s.claims[h.ClaimID]
	if !ok || e.pending != h.Seq {
		return ResolutionStale, nil
	}

	e.pending = 0
	e.rev++
	res := ResolutionConfirmed
	var err error
	if writeErr != nil {
		e.claim.Status = h.From
		res = ResolutionReverted
		err = transient("update status", h.ClaimID, writeErr)
	}
	e.claim.UpdatedAt = s.now()

	if e.deferred != nil {
		d := e.deferred
		e.deferred = nil
		s.put(remoteCopy(d, s.now))
	}
	return res, err
}

// EditFields applies a patch to the local view and returns the edited claim
func (s *Store) EditFields(id string, patch claim.Patch) (*claim.Claim, error) {
	e, ok := s.claims[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, id)
	}
	cp := e.claim.Clone()
	if err := patch.ApplyTo(cp, s.now()); err != nil {
		return nil, err
	}
	e.claim = cp
	e.rev++
	return cp.Clone(), nil
}

// AppendTranscript adds an entry unless one with the same ID is already
// present. Entries stay ordered by CreatedAt within their claim.
func (s *Store) AppendTranscript(te claim.TranscriptEntry) bool {
	if _, dup := s.seen[te.ID]; dup {
		return false
	}
	s.seen[te.ID] = struct{}{}

	key := te.ClaimKey()
	list := s.transcripts[key]
	i := sort.Search(len(list), func(i int) bool {
		if list[i].CreatedAt.Equal(te.CreatedAt) {
			return list[i].ID > te.ID
		}
		return list[i].CreatedAt.After(te.CreatedAt)
	})
	list = append(list, claim.TranscriptEntry{})
	copy(list[i+1:], list[i:])
	list[i] = te
	s.transcripts[key] = list
	return true
}

// Transcript returns a copy of a claim's entries. An empty claimID selects
// entries not attached to any claim.
func (s *Store) Transcript(claimID string) []claim.TranscriptEntry {
	list := s.transcripts[claimID]
	out := make([]claim.TranscriptEntry, len(list))
	copy(out, list)
	return out
}
