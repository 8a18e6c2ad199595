package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/consultation"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/google/uuid"
)

// memDB is an in-memory Store backend. Transactions are serialized and roll
// back by restoring a snapshot taken when they began.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users         map[uuid.UUID]domain.User
	referrals     []referral.Referral
	history       []referral.StatusHistoryEntry
	consultations []consultation.Consultation
	activity      []domain.ActivityLog
	nextID        int64

	// failOn makes the named operation return the error, e.g. "referrals.create".
	failOn map[string]error
}

type memSnapshot struct {
	users         map[uuid.UUID]domain.User
	referrals     []referral.Referral
	history       []referral.StatusHistoryEntry
	consultations []consultation.Consultation
	activity      []domain.ActivityLog
	nextID        int64
}

func newMemStore() *memStore {
	return &memStore{db: &memDB{
		users:  make(map[uuid.UUID]domain.User),
		failOn: make(map[string]error),
	}}
}

type memStore struct {
	db   *memDB
	inTx bool
}

func (s *memStore) Users() UserRepository { return memUsers{s.db} }
func (s *memStore) Referrals() referral.Repository { return memReferrals{s.db} }
func (s *memStore) History() referral.HistoryRepository { return memHistory{s.db} }
func (s *memStore) Consultations() consultation.Repository { return memConsultations{s.db} }
func (s *memStore) Activity() ActivityRepository { return memActivity{s.db} }

func (s *memStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	snap := s.db.snapshot()
	if err := fn(&memStore{db: s.db, inTx: true}); err != nil {
		s.db.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) fail(op string, err error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.failOn[op] = err
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()

	users := make(map[uuid.UUID]domain.User, len(db.users))
	for k, v := range db.users {
		users[k] = v
	}
	return memSnapshot{
		users:         users,
		referrals:     slices.Clone(db.referrals),
		history:       slices.Clone(db.history),
		consultations: slices.Clone(db.consultations),
		activity:      slices.Clone(db.activity),
		nextID:        db.nextID,
	}
}

func (db *memDB) restore(s memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.users = s.users
	db.referrals = s.referrals
	db.history = s.history
	db.consultations = s.consultations
	db.activity = s.activity
	db.nextID = s.nextID
}

// lock acquires the data mutex and reports any injected failure for op.
func (db *memDB) lock(op string) error {
	db.mu.Lock()
	if err := db.failOn[op]; err != nil {
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

type memUsers struct{ db *memDB }

func (r memUsers) Create(_ context.Context, u *domain.User) error {
	if err := r.db.lock("users.create"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	for _, existing := range r.db.users {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return domain.ErrDuplicateUser
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.db.users[u.ID] = *u
	return nil
}

func (r memUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if err := r.db.lock("users.get"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	u, ok := r.db.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (r memUsers) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	if err := r.db.lock("users.get"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	for _, u := range r.db.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if err := r.db.lock("users.get"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	for _, u := range r.db.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r memUsers) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	if err := r.db.lock("users.update"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	u, ok := r.db.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.LastLoginAt = &at
	r.db.users[id] = u
	return nil
}

func (r memUsers) Update(_ context.Context, u *domain.User) error {
	if err := r.db.lock("users.update"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	if _, ok := r.db.users[u.ID]; !ok {
		return domain.ErrUserNotFound
	}
	for id, existing := range r.db.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return domain.ErrDuplicateUser
		}
	}
	u.UpdatedAt = time.Now().UTC()
	r.db.users[u.ID] = *u
	return nil
}

type memReferrals struct{ db *memDB }

func (r memReferrals) Create(_ context.Context, ref *referral.Referral) error {
	if err := r.db.lock("referrals.create"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	ref.ID = r.db.id()
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	ref.UpdatedAt = ref.CreatedAt
	r.db.referrals = append(r.db.referrals, *ref)
	return nil
}

func (r memReferrals) find(referralID string) (int, bool) {
	for i, ref := range r.db.referrals {
		if ref.ReferralID == referralID {
			return i, true
		}
	}
	return 0, false
}

func (r memReferrals) GetByReferralID(_ context.Context, referralID string) (*referral.Referral, error) {
	if err := r.db.lock("referrals.get"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	i, ok := r.find(referralID)
	if !ok {
		return nil, referral.ErrReferralNotFound
	}
	ref := r.db.referrals[i]
	return &ref, nil
}

func (r memReferrals) GetForUpdate(ctx context.Context, referralID string) (*referral.Referral, error) {
	return r.GetByReferralID(ctx, referralID)
}

func (r memReferrals) UpdateStatus(_ context.Context, referralID string, status referral.Status, at time.Time) error {
	if err := r.db.lock("referrals.updateStatus"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	i, ok := r.find(referralID)
	if !ok {
		return referral.ErrReferralNotFound
	}
	r.db.referrals[i].Status = status
	r.db.referrals[i].UpdatedAt = at
	return nil
}

func (r memReferrals) ListByReferringDoctor(_ context.Context, doctorID uuid.UUID, f referral.ListFilter) ([]*referral.ListItem, error) {
	if err := r.db.lock("referrals.list"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	return r.list(f, func(ref referral.Referral) (bool, *uuid.UUID) {
		return ref.ReferringDoctorID == doctorID, ref.ReferredDoctorID
	}), nil
}

func (r memReferrals) ListForRecipient(_ context.Context, doctorID uuid.UUID, email string, f referral.ListFilter) ([]*referral.ListItem, error) {
	if err := r.db.lock("referrals.list"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	return r.list(f, func(ref referral.Referral) (bool, *uuid.UUID) {
		referring := ref.ReferringDoctorID
		return ref.IsAddressedTo(doctorID, email), &referring
	}), nil
}

func (r memReferrals) list(f referral.ListFilter, match func(referral.Referral) (bool, *uuid.UUID)) []*referral.ListItem {
	var rows []referral.Referral
	counterparts := map[string]*uuid.UUID{}
	for _, ref := range r.db.referrals {
		ok, counterpart := match(ref)
		if !ok || !matchesFilter(ref, f) {
			continue
		}
		rows = append(rows, ref)
		counterparts[ref.ReferralID] = counterpart
	}

	slices.SortFunc(rows, func(a, b referral.Referral) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})

	items := make([]*referral.ListItem, 0, len(rows))
	for _, ref := range rows {
		item := &referral.ListItem{
			ReferralID:          ref.ReferralID,
			PatientName:         ref.PatientName,
			PatientAge:          ref.PatientAge,
			PatientGender:       ref.PatientGender,
			Urgency:             ref.Urgency,
			Status:              ref.Status,
			ReferredDoctorEmail: ref.ReferredDoctorEmail,
			CreatedAt:           ref.CreatedAt,
			UpdatedAt:           ref.UpdatedAt,
		}
		if id := counterparts[ref.ReferralID]; id != nil {
			if u, ok := r.db.users[*id]; ok {
				name := u.FullName
				item.CounterpartName = &name
			}
		}
		items = append(items, item)
	}
	return items
}

func matchesFilter(ref referral.Referral, f referral.ListFilter) bool {
	if f.Status != nil && ref.Status != *f.Status {
		return false
	}
	if f.Urgency != nil && ref.Urgency != *f.Urgency {
		return false
	}
	if f.CreatedFrom != nil && ref.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && ref.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}

func (r memReferrals) LinkReferredDoctors(_ context.Context) (int64, error) {
	if err := r.db.lock("referrals.link"); err != nil {
		return 0, err
	}
	defer r.db.mu.Unlock()

	var n int64
	for i, ref := range r.db.referrals {
		if ref.ReferredDoctorID != nil {
			continue
		}
		for _, u := range r.db.users {
			if strings.EqualFold(u.Email, ref.ReferredDoctorEmail) {
				id := u.ID
				r.db.referrals[i].ReferredDoctorID = &id
				n++
				break
			}
		}
	}
	return n, nil
}

type memHistory struct{ db *memDB }

func (r memHistory) Append(_ context.Context, e *referral.StatusHistoryEntry) error {
	if err := r.db.lock("history.append"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	e.ID = r.db.id()
	r.db.history = append(r.db.history, *e)
	return nil
}

func (r memHistory) ListByReferral(_ context.Context, referralID string) ([]*referral.StatusHistoryEntry, error) {
	if err := r.db.lock("history.list"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	var out []*referral.StatusHistoryEntry
	for _, e := range r.db.history {
		if e.ReferralID == referralID {
			e := e
			out = append(out, &e)
		}
	}
	slices.SortFunc(out, func(a, b *referral.StatusHistoryEntry) int {
		if c := a.ChangedAt.Compare(b.ChangedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

type memConsultations struct{ db *memDB }

func (r memConsultations) Create(_ context.Context, c *consultation.Consultation) error {
	if err := r.db.lock("consultations.create"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	c.ID = r.db.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.db.consultations = append(r.db.consultations, *c)
	return nil
}

func (r memConsultations) LatestByReferral(ctx context.Context, referralID string) (*consultation.Consultation, error) {
	all, err := r.ListByReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, consultation.ErrConsultationNotFound
	}
	return all[len(all)-1], nil
}

func (r memConsultations) ListByReferral(_ context.Context, referralID string) ([]*consultation.Consultation, error) {
	if err := r.db.lock("consultations.list"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	var out []*consultation.Consultation
	for _, c := range r.db.consultations {
		if c.ReferralID == referralID {
			c := c
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *consultation.Consultation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

type memActivity struct{ db *memDB }

func (r memActivity) Create(_ context.Context, entry *domain.ActivityLog) error {
	if err := r.db.lock("activity.create"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.db.activity = append(r.db.activity, *entry)
	return nil
}

func (r memActivity) ListRecentByUser(_ context.Context, userID uuid.UUID, limit int) ([]*domain.ActivityLog, error) {
	if err := r.db.lock("activity.list"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	var out []*domain.ActivityLog
	for i := len(r.db.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.db.activity[i]; e.UserID == userID {
			out = append(out, &e)
		}
	}
	return out, nil
}

// counts returns the number of rows in each table, for rollback assertions.
func (s *memStore) counts() (referrals, consultations, history, activity int) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.referrals), len(s.db.consultations), len(s.db.history), len(s.db.activity)
}

func (s *memStore) activityOf(t domain.ActivityType) []domain.ActivityLog {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.ActivityLog
	for _, e := range s.db.activity {
		if e.ActivityType == t {
			out = append(out, e)
		}
	}
	return out
}
