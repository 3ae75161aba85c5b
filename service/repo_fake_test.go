package service

import (
	"context"
	"database/sql"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"reflect"
	"restream/constant"
	"restream/dto"
	"restream/entities"
	"restream/repository"
	"sort"
	"sync"
	"unicode"
)

// memRepo is an in-memory repository.Repository. Reads return copies, and
// updates with columns only touch those columns, as gorm's Select does.
type memRepo struct {
	mu           sync.Mutex
	seq          int64
	streams      map[uuid.UUID]*entities.Stream
	sessions     map[uuid.UUID]*entities.Session
	destinations map[uuid.UUID]*entities.RepublishingDestination
	order        map[uuid.UUID]int64

	updates int
}

var _ repository.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		streams:      map[uuid.UUID]*entities.Stream{},
		sessions:     map[uuid.UUID]*entities.Session{},
		destinations: map[uuid.UUID]*entities.RepublishingDestination{},
		order:        map[uuid.UUID]int64{},
	}
}

func testContext() context.Context {
	return zerolog.Nop().WithContext(context.Background())
}

func columnName(field string) string {
	runes := []rune(field)
	out := make([]rune, 0, len(runes)+4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				out = append(out, '_')
			}
			out = append(out, unicode.ToLower(r))
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// copyColumns copies the named columns from src into dst, or every field
// when columns is empty. Association slices are never copied.
func copyColumns(dst, src interface{}, columns []string) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	want := map[string]bool{}
	for _, c := range columns {
		want[c] = true
	}
	for i := 0; i < sv.NumField(); i++ {
		f := sv.Type().Field(i)
		if f.Name == "Sessions" || f.Name == "Destinations" {
			continue
		}
		if len(columns) > 0 && !want[columnName(f.Name)] {
			continue
		}
		dv.Field(i).Set(sv.Field(i))
	}
}

func (r *memRepo) next() int64 {
	r.seq++
	return r.seq
}

func (r *memRepo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return callback(ctx)
}

func (r *memRepo) Migrate(ctx context.Context) error { return nil }

func cloneStream(s *entities.Stream) *entities.Stream {
	c := *s
	c.Sessions, c.Destinations = nil, nil
	return &c
}

func (r *memRepo) CreateStream(ctx context.Context, stream *entities.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stream.ID == uuid.Nil {
		stream.ID = uuid.New()
	}
	for _, s := range r.streams {
		if s.StreamKey == stream.StreamKey {
			return errors.New("duplicate stream key")
		}
	}
	r.streams[stream.ID] = cloneStream(stream)
	r.order[stream.ID] = r.next()
	return nil
}

func (r *memRepo) FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneStream(s), nil
}

func (r *memRepo) FindStreamByKey(ctx context.Context, streamKey string) (*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.streams {
		if s.StreamKey == streamKey {
			return cloneStream(s), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) ListStreamsByUser(ctx context.Context, userId uuid.UUID) ([]*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Stream
	for _, s := range r.streams {
		if s.UserId == userId {
			out = append(out, cloneStream(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i].ID] > r.order[out[j].ID] })
	return out, nil
}

func (r *memRepo) ListStreamsByStatus(ctx context.Context, status constant.StreamStatus) ([]*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Stream
	for _, s := range r.streams {
		if s.Status == status {
			out = append(out, cloneStream(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *memRepo) UpdateStream(ctx context.Context, stream *entities.Stream, columns ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.streams[stream.ID]
	if !ok {
		return nil
	}
	r.updates++
	copyColumns(stored, stream, columns)
	return nil
}

func (r *memRepo) DeleteStream(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; !ok {
		return repository.ErrNotFound
	}
	for did, d := range r.destinations {
		if d.StreamId == id {
			delete(r.destinations, did)
		}
	}
	for sid, s := range r.sessions {
		if s.StreamId == id {
			delete(r.sessions, sid)
		}
	}
	delete(r.streams, id)
	return nil
}

func (r *memRepo) StreamStats(ctx context.Context, streamIds []uuid.UUID) (map[uuid.UUID]dto.StreamStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := map[uuid.UUID]dto.StreamStats{}
	for _, id := range streamIds {
		var st dto.StreamStats
		var quality float64
		for _, s := range r.sessions {
			if s.StreamId != id {
				continue
			}
			st.SessionCount++
			if s.DurationSeconds != nil {
				st.TotalDurationSeconds += *s.DurationSeconds
			}
			if s.PeakViewers > st.PeakViewers {
				st.PeakViewers = s.PeakViewers
			}
			st.TotalViewers += int64(s.TotalViewers)
			quality += s.ConnectionQuality
		}
		if st.SessionCount > 0 {
			st.AverageQuality = quality / float64(st.SessionCount)
		}
		for _, d := range r.destinations {
			if d.StreamId != id {
				continue
			}
			st.DestinationCount++
			if d.Enabled {
				st.EnabledDestinationCount++
			}
		}
		stats[id] = st
	}
	return stats, nil
}

func cloneSession(s *entities.Session) *entities.Session {
	c := *s
	c.AnnouncementIds = append(entities.StringList(nil), s.AnnouncementIds...)
	return &c
}

func (r *memRepo) OpenSession(ctx context.Context, session *entities.Session) ([]*entities.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var superseded []*entities.Session
	for _, prev := range r.sessions {
		if prev.StreamId != session.StreamId || prev.Status != constant.SessionStatusActive {
			continue
		}
		endedAt := session.StartedAt
		duration := int64(endedAt.Sub(prev.StartedAt).Seconds())
		prev.Status = constant.SessionStatusEnded
		prev.EndedAt = &endedAt
		if prev.DurationSeconds == nil {
			prev.DurationSeconds = &duration
		}
		superseded = append(superseded, cloneSession(prev))
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	r.sessions[session.ID] = cloneSession(session)
	r.order[session.ID] = r.next()
	return superseded, nil
}

func (r *memRepo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *memRepo) sessionsWhere(match func(*entities.Session) bool) []*entities.Session {
	var out []*entities.Session
	for _, s := range r.sessions {
		if match(s) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i].ID] > r.order[out[j].ID] })
	return out
}

func (r *memRepo) FindActiveSession(ctx context.Context, streamId uuid.UUID) (*entities.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := r.sessionsWhere(func(s *entities.Session) bool {
		return s.StreamId == streamId && s.Status == constant.SessionStatusActive
	})
	if len(active) == 0 {
		return nil, repository.ErrNotFound
	}
	return active[0], nil
}

func (r *memRepo) ListActiveSessionsByUser(ctx context.Context, userId uuid.UUID) ([]*entities.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsWhere(func(s *entities.Session) bool {
		return s.UserId == userId && s.Status == constant.SessionStatusActive
	}), nil
}

func (r *memRepo) ListSessionsByStream(ctx context.Context, streamId uuid.UUID) ([]*entities.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsWhere(func(s *entities.Session) bool { return s.StreamId == streamId }), nil
}

func (r *memRepo) UpdateSession(ctx context.Context, session *entities.Session, columns ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[session.ID]
	if !ok {
		return nil
	}
	r.updates++
	copyColumns(stored, session, columns)
	return nil
}

func (r *memRepo) activeSessions(streamId uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.StreamId == streamId && s.Status == constant.SessionStatusActive {
			n++
		}
	}
	return n
}

func cloneDestination(d *entities.RepublishingDestination) *entities.RepublishingDestination {
	c := *d
	return &c
}

func (r *memRepo) CreateDestination(ctx context.Context, destination *entities.RepublishingDestination) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if destination.ID == uuid.Nil {
		destination.ID = uuid.New()
	}
	r.destinations[destination.ID] = cloneDestination(destination)
	r.order[destination.ID] = r.next()
	return nil
}

func (r *memRepo) FindDestinationById(ctx context.Context, id uuid.UUID) (*entities.RepublishingDestination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.destinations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneDestination(d), nil
}

func (r *memRepo) ListDestinationsByStream(ctx context.Context, streamId uuid.UUID) ([]*entities.RepublishingDestination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.RepublishingDestination
	for _, d := range r.destinations {
		if d.StreamId == streamId {
			out = append(out, cloneDestination(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return r.order[out[i].ID] < r.order[out[j].ID]
	})
	return out, nil
}

func (r *memRepo) UpdateDestination(ctx context.Context, destination *entities.RepublishingDestination, columns ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.destinations[destination.ID]
	if !ok {
		return nil
	}
	r.updates++
	copyColumns(stored, destination, columns)
	return nil
}

func (r *memRepo) SetDestinationsStatus(ctx context.Context, streamId uuid.UUID, status constant.DestinationStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, d := range r.destinations {
		if d.StreamId == streamId {
			d.Status = status
			n++
		}
	}
	return n, nil
}

func (r *memRepo) DeleteDestination(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.destinations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.destinations, id)
	return nil
}

func (r *memRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}
