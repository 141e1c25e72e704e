package submission

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/label-dispatch/internal/dispatcher"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/repository"
)

type fakeLabels struct {
	byID map[string]model.Label
}

func (f *fakeLabels) GetByID(_ context.Context, id string) (*model.Label, error) {
	l, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (f *fakeLabels) ListVisible(_ context.Context, userID string) ([]model.Label, error) {
	var out []model.Label
	for _, l := range f.byID {
		if l.IsActive && (l.AddedBy == model.AddedByAdmin || l.OwnerUserID == userID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLabels) Upsert(_ context.Context, l model.Label) error {
	f.byID[l.ID] = l
	return nil
}

type fakePitches struct {
	byUser map[string]model.Pitch
}

func (f *fakePitches) GetByUser(_ context.Context, userID string) (*model.Pitch, error) {
	p, ok := f.byUser[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakePitches) Upsert(_ context.Context, p model.Pitch) error {
	f.byUser[p.UserID] = p
	return nil
}

// fakeSubs mimics the transactional reserve by holding one mutex for the
// count, admit and insert.
type fakeSubs struct {
	mu    sync.Mutex
	users map[string]model.User
	logs  map[string]*model.SubmissionLog
	order []string
	// transitions counts terminal writes per id
	transitions map[string]int
}

func newFakeSubs(users ...model.User) *fakeSubs {
	f := &fakeSubs{
		users:       make(map[string]model.User),
		logs:        make(map[string]*model.SubmissionLog),
		transitions: make(map[string]int),
	}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeSubs) ReservePending(_ context.Context, userID string, from, to time.Time, admit repository.AdmitFunc) (model.SubmissionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return model.SubmissionLog{}, repository.ErrUserNotFound
	}
	count := 0
	for _, l := range f.logs {
		if l.UserID != userID || l.Status == model.SubmissionFailed {
			continue
		}
		if !l.CreatedAt.Before(from) && l.CreatedAt.Before(to) {
			count++
		}
	}
	entry, err := admit(u, count)
	if err != nil {
		return model.SubmissionLog{}, err
	}
	entry.Status = model.SubmissionPending
	cp := entry
	f.logs[entry.ID] = &cp
	f.order = append(f.order, entry.ID)
	return entry, nil
}

func (f *fakeSubs) transition(id string, to model.SubmissionStatus, mut func(*model.SubmissionLog)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.logs[id]
	if !ok || l.Status != model.SubmissionPending {
		return repository.ErrNotPending
	}
	l.Status = to
	mut(l)
	f.transitions[id]++
	return nil
}

func (f *fakeSubs) MarkSent(_ context.Context, id, provider, messageID string) error {
	return f.transition(id, model.SubmissionSent, func(l *model.SubmissionLog) {
		l.Provider = provider
		l.PostmarkMessageID = messageID
	})
}

func (f *fakeSubs) MarkFailed(_ context.Context, id, reason string) error {
	return f.transition(id, model.SubmissionFailed, func(l *model.SubmissionLog) {
		l.ErrorReason = reason
	})
}

func (f *fakeSubs) Get(_ context.Context, id string) (*model.SubmissionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.logs[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeSubs) ListByUser(_ context.Context, userID string, limit, offset int) ([]model.SubmissionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SubmissionLog
	for i := len(f.order) - 1; i >= 0; i-- {
		if l := f.logs[f.order[i]]; l.UserID == userID {
			out = append(out, *l)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSubs) ListStalePending(_ context.Context, before time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, l := range f.logs {
		if l.Status == model.SubmissionPending && l.CreatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeSubs) BatchFail(ctx context.Context, ids []string, reason string) (int64, error) {
	var n int64
	for _, id := range ids {
		if err := f.MarkFailed(ctx, id, reason); err == nil {
			n++
		}
	}
	return n, nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []dispatcher.Message
	fail  func(n int) error // consulted per call, 1-based
	block bool
}

func (f *fakeSender) Send(ctx context.Context, msg dispatcher.Message) (dispatcher.Receipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	n := len(f.sent)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return dispatcher.Receipt{}, ctx.Err()
	}
	if f.fail != nil {
		if err := f.fail(n); err != nil {
			return dispatcher.Receipt{}, err
		}
	}
	return dispatcher.Receipt{Provider: "fake", MessageID: "msg-" + msg.Metadata["submission_id"]}, nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []model.Envelope
}

func (f *fakeEmitter) Emit(_ context.Context, ev model.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeEmitter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Name)
	}
	return out
}

var errProvider = errors.New("provider rejected message")
