package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/model"
	"github.com/joncaseee/pdx-underground-app/internal/shardqueue"
)

var errStreamClosed = errors.New("subscription closed by store")

const refetchTimeout = 10 * time.Second

// SubscribeOption narrows what a View shows.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	ownedBy     string
	includePast bool
}

// OwnedBy limits the view to events posted by userID.
func OwnedBy(userID string) SubscribeOption {
	return func(o *subscribeOptions) { o.ownedBy = userID }
}

// IncludePast keeps events dated before the subscribe instant.
func IncludePast() SubscribeOption {
	return func(o *subscribeOptions) { o.includePast = true }
}

// intents is the optimistic overlay for one toggle kind. overlay holds the
// value shown until the next push of the underlying record; latest is the
// sequence number of the newest intent per event. pending holds the value
// the newest in-flight intent writes, and observed records that a push
// already showed it, after which the overlay must not be reinstated.
type intents struct {
	overlay  map[string]bool
	latest   map[string]uint64
	states   map[string]ToggleState
	pending  map[string]bool
	observed map[string]bool
}

func newIntents() *intents {
	return &intents{
		overlay:  make(map[string]bool),
		latest:   make(map[string]uint64),
		states:   make(map[string]ToggleState),
		pending:  make(map[string]bool),
		observed: make(map[string]bool),
	}
}

// observe marks pending intents whose value the pushed state already shows.
func (in *intents) observe(pushed func(eventID string) (value, present bool)) {
	for id, want := range in.pending {
		if got, ok := pushed(id); ok && got == want {
			in.observed[id] = true
		}
	}
}

type streams struct {
	events docstore.Subscription
	saved  docstore.Subscription
}

func (s *streams) close() {
	if s == nil {
		return
	}
	if s.events != nil {
		_ = s.events.Close()
	}
	if s.saved != nil {
		_ = s.saved.Close()
	}
}

// View is a live feed for one user. Events come from a live query of the
// events collection and the saved set from a live watch of the user's
// saved-events record. Pushed values always replace optimistic ones.
//
// A View is safe for concurrent use.
type View struct {
	c      *Client
	userID string
	opts   subscribeOptions
	now    time.Time
	log    zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	refresh chan chan error
	unwatch func()

	mu        sync.Mutex
	closed    bool
	signedOut bool
	events    []model.Event
	saved     map[string]bool
	likes     *intents
	saves     *intents
	seq       uint64
	err       error
	version   uint64
	updates   chan Snapshot
}

// Subscribe opens a live view for userID, which may be "" for anonymous
// browsing. It returns once the initial snapshot has been applied. "Now"
// is captured here and not re-evaluated on later pushes.
func (c *Client) Subscribe(ctx context.Context, userID string, opts ...SubscribeOption) (*View, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	var so subscribeOptions
	for _, o := range opts {
		o(&so)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	v := &View{
		c:         c,
		userID:    userID,
		signedOut: userID != "" && c.ident.CurrentUserID() != userID,
		opts:      so,
		now:       c.now(),
		log:       c.log.With().Str("component", "view").Str("user_id", userID).Logger(),
		ctx:       runCtx,
		cancel:    cancel,
		refresh:   make(chan chan error, 1),
		saved:     make(map[string]bool),
		likes:     newIntents(),
		saves:     newIntents(),
		updates:   make(chan Snapshot, 1),
	}
	s, err := v.open(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	v.unwatch = c.ident.OnAuthStateChange(v.authChanged)
	if err := c.track(v); err != nil {
		v.unwatch()
		s.close()
		cancel()
		return nil, err
	}
	v.wg.Add(1)
	go v.run(s)
	return v, nil
}

// SubscribeCurrent is Subscribe for the signed-in user. If that user
// signs out or another signs in, the view keeps showing the feed but its
// toggles fail with ErrUnauthenticated and Snapshot.Err reports it.
func (c *Client) SubscribeCurrent(ctx context.Context, opts ...SubscribeOption) (*View, error) {
	return c.Subscribe(ctx, c.ident.CurrentUserID(), opts...)
}

// UserID is the user the view was opened for.
func (v *View) UserID() string { return v.userID }

// Now is the instant captured at subscribe.
func (v *View) Now() time.Time { return v.now }

// Snapshot returns the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Updates delivers a snapshot after every change. Undelivered snapshots
// are replaced by newer ones. The channel is closed by Close.
func (v *View) Updates() <-chan Snapshot { return v.updates }

// Close tears down the subscriptions. Toggle results that arrive later
// are dropped. Safe to call multiple times.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	close(v.updates)
	v.mu.Unlock()

	if v.unwatch != nil {
		v.unwatch()
	}
	v.cancel()
	v.wg.Wait()
	v.c.untrack(v)
	return nil
}

// ToggleLike flips the viewer's like on eventID. The new value is shown
// immediately and the call returns once the store write settles. On
// failure the value is reverted, the error is recorded on the view and
// authoritative state is fetched again.
func (v *View) ToggleLike(ctx context.Context, eventID string) (bool, error) {
	return v.toggle(ctx, kindLike, eventID)
}

// ToggleSave flips whether eventID is in the viewer's saved set. The
// saved-events record is created on first use.
func (v *View) ToggleSave(ctx context.Context, eventID string) (bool, error) {
	return v.toggle(ctx, kindSave, eventID)
}

// Refresh re-reads the events and the saved set and applies them as if
// they had been pushed. The read runs in order with pushes, so a slow
// result never overwrites a newer push.
func (v *View) Refresh(ctx context.Context) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	reply := make(chan error, 1)
	select {
	case v.refresh <- reply:
	case <-v.ctx.Done():
		return ErrViewClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-v.ctx.Done():
		return ErrViewClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// authChanged tracks whether the view's user is still the signed-in one.
func (v *View) authChanged(uid string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.userID == "" {
		return
	}
	out := uid != v.userID
	if out == v.signedOut {
		return
	}
	v.signedOut = out
	switch {
	case out:
		v.err = ErrUnauthenticated
	case errors.Is(v.err, ErrUnauthenticated):
		v.err = nil
	}
	v.changedLocked()
}

// ------------------------- subscriptions -------------------------

func (v *View) query() docstore.Query {
	q := docstore.Query{Collection: model.CollectionEvents, OrderBy: model.FieldDateTime}
	if v.opts.ownedBy != "" {
		q.Where = []docstore.Filter{{Field: model.FieldUserID, Value: v.opts.ownedBy}}
	}
	return q
}

// open subscribes to both streams and applies their first snapshots.
// Subscriptions live on the view context; ctx bounds the initial wait.
func (v *View) open(ctx context.Context) (*streams, error) {
	s := &streams{}
	ev, err := v.c.store.Subscribe(v.ctx, v.query())
	if err != nil {
		return nil, err
	}
	s.events = ev
	if v.userID != "" {
		sv, err := v.c.store.SubscribeDoc(v.ctx, model.CollectionSavedEvents, v.userID)
		if err != nil {
			s.close()
			return nil, err
		}
		s.saved = sv
	}

	docs, err := next(ctx, s.events)
	if err != nil {
		s.close()
		return nil, err
	}
	var savedDocs []docstore.Document
	if s.saved != nil {
		if savedDocs, err = next(ctx, s.saved); err != nil {
			s.close()
			return nil, err
		}
	}
	v.applyEvents(v.prepare(ctx, docs))
	if s.saved != nil {
		v.applySaved(v.savedSet(savedDocs))
	}
	return s, nil
}

func next(ctx context.Context, sub docstore.Subscription) ([]docstore.Document, error) {
	select {
	case snap, ok := <-sub.C():
		if !ok {
			return nil, errStreamClosed
		}
		if snap.Err != nil {
			return nil, snap.Err
		}
		return snap.Docs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *View) run(s *streams) {
	defer v.wg.Done()
	defer func() { s.close() }()

	for {
		var savedC <-chan docstore.Snapshot
		if s.saved != nil {
			savedC = s.saved.C()
		}
		var failure error
		select {
		case <-v.ctx.Done():
			return
		case snap, ok := <-s.events.C():
			if failure = streamErr(snap, ok); failure == nil {
				pushesTotal.WithLabelValues("events").Inc()
				v.applyEvents(v.prepare(v.ctx, snap.Docs))
			}
		case snap, ok := <-savedC:
			if failure = streamErr(snap, ok); failure == nil {
				pushesTotal.WithLabelValues("saved").Inc()
				v.applySaved(v.savedSet(snap.Docs))
			}
		case reply := <-v.refresh:
			ctx, cancel := context.WithTimeout(v.ctx, refetchTimeout)
			err := v.refetch(ctx)
			cancel()
			if err != nil && v.ctx.Err() == nil {
				v.fail(err, "refetch failed")
			}
			if reply != nil {
				reply <- err
			}
		}
		if failure == nil {
			continue
		}
		if v.ctx.Err() != nil {
			return
		}
		v.fail(failure, "subscription failed")
		s.close()
		if s = v.reopen(); s == nil {
			return
		}
	}
}

func streamErr(snap docstore.Snapshot, ok bool) error {
	if !ok {
		return errStreamClosed
	}
	return snap.Err
}

// reopen resubscribes with exponential backoff until it succeeds or the
// view closes.
func (v *View) reopen() *streams {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxInterval = 30 * time.Second
	exp.MaxElapsedTime = 0

	s, err := backoff.RetryNotifyWithData(func() (*streams, error) {
		return v.open(v.ctx)
	}, backoff.WithContext(exp, v.ctx), func(err error, d time.Duration) {
		v.log.Warn().Err(err).Dur("retry_in", d).Msg("resubscribe failed")
	})
	if err != nil {
		return nil
	}
	resubscribesTotal.Inc()
	v.mu.Lock()
	if !v.closed {
		if !v.signedOut {
			v.err = nil
		}
		v.changedLocked()
	}
	v.mu.Unlock()
	v.log.Info().Msg("resubscribed")
	return s
}

func (v *View) refetch(ctx context.Context) error {
	docs, err := v.c.store.Query(ctx, v.query())
	if err != nil {
		return err
	}
	var set map[string]bool
	if v.userID != "" {
		doc, err := v.c.store.Get(ctx, model.CollectionSavedEvents, v.userID)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			set = map[string]bool{}
		case err != nil:
			return err
		default:
			set = v.savedSet([]docstore.Document{doc})
		}
	}
	v.applyEvents(v.prepare(ctx, docs))
	if set != nil {
		v.applySaved(set)
	}
	return nil
}

func (v *View) requestRefresh() {
	select {
	case v.refresh <- nil:
	default:
	}
}

// ------------------------- reconciliation -------------------------

// prepare decodes, filters and orders pushed event documents and joins
// organizer profile pictures. Events whose dateTime does not parse are
// dropped.
func (v *View) prepare(ctx context.Context, docs []docstore.Document) []model.Event {
	type dated struct {
		e model.Event
		t time.Time
	}
	list := make([]dated, 0, len(docs))
	for _, d := range docs {
		e, err := model.DecodeEvent(d.ID, d.Fields)
		if err != nil {
			v.log.Warn().Err(err).Str("event_id", d.ID).Msg("skipping undecodable event")
			continue
		}
		t, err := model.ParseDateTime(e.DateTime, v.c.loc)
		if err != nil {
			undatedEventsTotal.Inc()
			v.log.Warn().Err(err).Str("event_id", d.ID).Msg("skipping event without a valid dateTime")
			continue
		}
		if !v.opts.includePast && t.Before(v.now) {
			continue
		}
		list = append(list, dated{e: e, t: t})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].t.Before(list[j].t) })

	events := make([]model.Event, len(list))
	owners := make([]string, 0, len(list))
	for i, d := range list {
		events[i] = d.e
		owners = append(owners, d.e.UserID)
	}

	profiles, err := v.c.profiles.GetMany(ctx, owners)
	if err != nil {
		v.log.Warn().Err(err).Msg("organizer profile join incomplete")
	}
	for i := range events {
		if p, ok := profiles[events[i].UserID]; ok {
			events[i].OrganizerProfilePicture = p.ProfilePicture
		}
	}
	return events
}

func (v *View) savedSet(docs []docstore.Document) map[string]bool {
	if len(docs) == 0 {
		return map[string]bool{}
	}
	s, err := model.DecodeSavedEvents(v.userID, docs[0].Fields)
	if err != nil {
		v.log.Warn().Err(err).Msg("saved events record unreadable, treating as empty")
		return map[string]bool{}
	}
	return s.Set()
}

func (v *View) applyEvents(events []model.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.events = events
	if len(v.likes.pending) > 0 {
		byID := make(map[string]model.Event, len(events))
		for _, e := range events {
			byID[e.ID] = e
		}
		v.likes.observe(func(id string) (bool, bool) {
			e, ok := byID[id]
			return e.LikedByUser(v.userID), ok
		})
	}
	clear(v.likes.overlay)
	v.changedLocked()
}

func (v *View) applySaved(set map[string]bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.saved = set
	v.saves.observe(func(id string) (bool, bool) { return set[id], true })
	clear(v.saves.overlay)
	v.changedLocked()
}

func (v *View) fail(err error, msg string) {
	v.log.Error().Stack().Err(err).Msg(msg)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.err = err
	v.changedLocked()
}

// changedLocked bumps the version and publishes a snapshot, replacing any
// the reader has not taken yet.
func (v *View) changedLocked() {
	v.version++
	snap := v.snapshotLocked()
	select {
	case <-v.updates:
	default:
	}
	v.updates <- snap
}

func (v *View) snapshotLocked() Snapshot {
	s := Snapshot{
		Events:     append([]model.Event(nil), v.events...),
		LikedByMe:  make(map[string]bool, len(v.events)),
		SavedByMe:  make(map[string]bool, len(v.events)),
		LikeStates: make(map[string]ToggleState, len(v.likes.states)),
		SaveStates: make(map[string]ToggleState, len(v.saves.states)),
		Now:        v.now,
		Err:        v.err,
		Version:    v.version,
	}
	for _, e := range v.events {
		s.LikedByMe[e.ID], _ = v.currentLocked(kindLike, e.ID)
		s.SavedByMe[e.ID], _ = v.currentLocked(kindSave, e.ID)
	}
	for id, st := range v.likes.states {
		s.LikeStates[id] = st
	}
	for id, st := range v.saves.states {
		s.SaveStates[id] = st
	}
	return s
}

// currentLocked returns the value shown for eventID. known is false for a
// like on an event outside the view.
func (v *View) currentLocked(kind, eventID string) (value, known bool) {
	in := v.intentsFor(kind)
	if val, ok := in.overlay[eventID]; ok {
		return val, true
	}
	if kind == kindSave {
		return v.saved[eventID], true
	}
	for _, e := range v.events {
		if e.ID == eventID {
			return e.LikedByUser(v.userID), true
		}
	}
	return false, false
}

func (v *View) intentsFor(kind string) *intents {
	if kind == kindLike {
		return v.likes
	}
	return v.saves
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// ------------------------- toggles -------------------------

func (v *View) toggle(ctx context.Context, kind, eventID string) (bool, error) {
	if v.userID == "" || v.c.ident.CurrentUserID() != v.userID {
		togglesTotal.WithLabelValues(kind, "unauthenticated").Inc()
		return false, ErrUnauthenticated
	}
	desired, seq, err := v.begin(ctx, kind, eventID)
	if err != nil {
		return false, err
	}

	task := shardqueue.NewTask(func(ctx context.Context) error {
		if kind == kindLike {
			return v.c.setLiked(ctx, v.userID, eventID, desired)
		}
		return v.c.setSaved(ctx, v.userID, eventID, desired)
	})
	if err := v.c.exec.Submit(ctx, toggleKey(kind, v.userID, eventID), task); err != nil {
		err = mapSubmitErr(err)
		v.settle(kind, eventID, desired, seq, err)
		return !desired, err
	}

	select {
	case <-task.Done():
		err := task.Wait(context.Background())
		v.settle(kind, eventID, desired, seq, err)
		if err != nil {
			return !desired, err
		}
		return desired, nil
	case <-ctx.Done():
		// The write is still queued or running; settle when it finishes.
		go func() {
			<-task.Done()
			v.settle(kind, eventID, desired, seq, task.Wait(context.Background()))
		}()
		return desired, ctx.Err()
	}
}

// begin decides the direction from the value currently shown and applies
// it optimistically.
func (v *View) begin(ctx context.Context, kind, eventID string) (desired bool, seq uint64, err error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false, 0, ErrViewClosed
	}
	cur, known := v.currentLocked(kind, eventID)
	v.mu.Unlock()

	if !known {
		remote, err := v.c.isLiked(ctx, v.userID, eventID)
		if err != nil {
			return false, 0, err
		}
		cur = remote
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false, 0, ErrViewClosed
	}
	if again, ok := v.currentLocked(kind, eventID); ok {
		cur = again
	}
	desired = !cur
	v.seq++
	in := v.intentsFor(kind)
	in.overlay[eventID] = desired
	in.latest[eventID] = v.seq
	in.states[eventID] = Pending
	in.pending[eventID] = desired
	delete(in.observed, eventID)
	v.changedLocked()
	return desired, v.seq, nil
}

// settle records the outcome of one toggle. Only the newest intent for an
// event moves its overlay and state; an older failure still records the
// error and triggers a refetch. A confirmed value that a push already
// showed is left to the pushes, which may since have moved on.
func (v *View) settle(kind, eventID string, desired bool, seq uint64, err error) {
	if err != nil {
		togglesTotal.WithLabelValues(kind, "reverted").Inc()
		v.log.Error().Stack().Err(err).Str("kind", kind).Str("event_id", eventID).
			Bool("desired", desired).Msg("toggle failed, reverting")
	} else {
		togglesTotal.WithLabelValues(kind, "confirmed").Inc()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	in := v.intentsFor(kind)
	newest := in.latest[eventID] == seq
	observed := false
	if newest {
		observed = in.observed[eventID]
		delete(in.pending, eventID)
		delete(in.observed, eventID)
	}
	switch {
	case err == nil && newest:
		if observed {
			delete(in.overlay, eventID)
		} else {
			in.overlay[eventID] = desired
		}
		in.states[eventID] = Confirmed
		v.err = nil
	case err == nil:
		return
	case newest:
		delete(in.overlay, eventID)
		in.states[eventID] = Reverted
		v.err = err
		v.requestRefresh()
	default:
		v.err = err
		v.requestRefresh()
	}
	v.changedLocked()
}
