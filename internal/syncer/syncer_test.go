package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote 是内存中的 RemoteStore
type fakeRemote struct {
	mu      sync.Mutex
	seq     int
	tasks   []store.TaskRow
	habits  []store.HabitRow
	rules   map[string][]store.RuleRow
	deleted []string
	inserts int
	failOn  string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rules: map[string][]store.RuleRow{}}
}

var errBoom = errors.New("boom")

func (f *fakeRemote) fail(op string) error {
	if f.failOn == op {
		return errBoom
	}
	return nil
}

func (f *fakeRemote) ListTasks(_ context.Context, userID string) ([]store.TaskRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListTasks"); err != nil {
		return nil, err
	}
	var rows []store.TaskRow
	for _, t := range f.tasks {
		if t.UserID == userID {
			rows = append(rows, t)
		}
	}
	return rows, nil
}

func (f *fakeRemote) InsertTask(_ context.Context, row store.TaskRow) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("InsertTask"); err != nil {
		return "", err
	}
	f.seq++
	f.inserts++
	row.ID = fmt.Sprintf("id-%d", f.seq)
	f.tasks = append(f.tasks, row)
	return row.ID, nil
}

func (f *fakeRemote) UpdateTask(_ context.Context, row store.TaskRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateTask"); err != nil {
		return err
	}
	for i := range f.tasks {
		if f.tasks[i].ID == row.ID && f.tasks[i].UserID == row.UserID {
			f.tasks[i] = row
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRemote) DeleteTasks(_ context.Context, userID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteTasks"); err != nil {
		return err
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.tasks[:0]
	for _, t := range f.tasks {
		if t.UserID == userID && drop[t.ID] {
			f.deleted = append(f.deleted, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	f.tasks = kept
	return nil
}

func (f *fakeRemote) CountTasks(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CountTasks"); err != nil {
		return 0, err
	}
	var n int64
	for _, t := range f.tasks {
		if t.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRemote) ListHabitHistory(_ context.Context, userID string) ([]store.HabitRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []store.HabitRow
	for _, h := range f.habits {
		if h.UserID == userID {
			rows = append(rows, h)
		}
	}
	return rows, nil
}

func (f *fakeRemote) UpsertHabitHistory(_ context.Context, rows []store.HabitRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpsertHabitHistory"); err != nil {
		return err
	}
	for _, r := range rows {
		replaced := false
		for i, h := range f.habits {
			if h.UserID == r.UserID && h.HabitName == r.HabitName && h.Date == r.Date {
				f.habits[i] = r
				replaced = true
			}
		}
		if !replaced {
			f.habits = append(f.habits, r)
		}
	}
	return nil
}

func (f *fakeRemote) ListRules(_ context.Context, userID string) ([]store.RuleRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.RuleRow(nil), f.rules[userID]...), nil
}

func (f *fakeRemote) ReplaceRules(_ context.Context, userID string, rules []store.RuleRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[userID] = append([]store.RuleRow(nil), rules...)
	return nil
}

func TestLoadDropsMalformedRows(t *testing.T) {
	remote := newFakeRemote()
	remote.tasks = []store.TaskRow{
		{ID: "bad-day", UserID: "u1", Day: "2025-13-40", Period: "Tarefas", Text: "Broken"},
		{ID: "no-period", UserID: "u1", Day: "2025-06-10", Period: " ", Text: "Nowhere"},
		{ID: "blank", UserID: "u1", Day: "2025-06-10", Period: "Tarefas", Text: "  "},
		{ID: "ok", UserID: "u1", Day: "2025-06-10", Period: "Tarefas", Text: "Laundry", Color: "urgent"},
	}

	result, err := New(remote).Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bad-day", "no-period", "blank"}, result.Dropped)
	assert.ElementsMatch(t, []string{"bad-day", "no-period", "blank"}, remote.deleted)
	assert.Equal(t, planner.Schedule{
		"2025-06-10": {"Tarefas": {{Text: "Laundry", Priority: planner.PriorityUrgent, RemoteID: "ok"}}},
	}, result.Schedule)
}

func TestLoadApplyReplacesScheduleAndMergesHabits(t *testing.T) {
	remote := newFakeRemote()
	remote.tasks = []store.TaskRow{{ID: "r1", UserID: "u1", Day: "2025-06-11", Period: "Noite", Text: "Dinner", Completed: true}}
	remote.habits = []store.HabitRow{
		{UserID: "u1", HabitName: "Gym", Date: "2025-06-10", Completed: true},
		{UserID: "u1", HabitName: "Gym", Date: "2025-06-10", Completed: false},
		{UserID: "u1", HabitName: "Read", Date: "2025-06-10", Completed: true},
	}

	st := planner.NewState()
	st.Schedule["2025-06-10"] = map[string][]planner.TaskInstance{"Tarefas": {{Text: "Local only"}}}
	st.Habits.Set("Gym", "2025-06-09", true)
	st.Rules = []planner.RecurrenceRule{{ID: "gym", Text: "Gym", Days: planner.NewWeekdaySet(1)}}

	result, err := New(remote).Load(context.Background(), "u1")
	require.NoError(t, err)
	result.Apply(st)

	assert.Equal(t, planner.Schedule{
		"2025-06-11": {"Noite": {{Text: "Dinner", Completed: true, Priority: planner.PriorityNone, RemoteID: "r1"}}},
	}, st.Schedule)
	assert.False(t, st.Habits.Completed("Gym", "2025-06-10"))
	assert.True(t, st.Habits.Completed("Gym", "2025-06-09"))
	assert.True(t, st.Habits.Completed("Read", "2025-06-10"))
	require.Len(t, st.Rules, 1, "local rules survive an empty remote rule set")
}

func TestLoadFailureLeavesStateUntouched(t *testing.T) {
	remote := newFakeRemote()
	remote.failOn = "ListTasks"

	_, err := New(remote).Load(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.ErrorIs(t, err, errBoom)

	_, err = New(remote).Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestMirrorInsertsOnceThenUpdates(t *testing.T) {
	remote := newFakeRemote()
	s := New(remote)

	st := planner.NewState()
	st.Schedule["2025-06-10"] = map[string][]planner.TaskInstance{
		"Tarefas": {{Text: "Laundry"}, {Text: "Derived", Derived: true}},
	}
	st.Habits.Set("Gym", "2025-06-10", true)
	st.Rules = []planner.RecurrenceRule{{ID: "gym", Text: "Gym", Days: planner.NewWeekdaySet(1, 3)}}

	assigned, err := s.Mirror(context.Background(), Snapshot{
		UserID:       "u1",
		State:        st.Clone(),
		Habits:       []planner.HabitKey{{Text: "Gym", Date: "2025-06-10"}},
		RulesChanged: true,
	})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	stored, orphans := ApplyAssignments(st, assigned)
	assert.Equal(t, 1, stored)
	assert.Empty(t, orphans)
	assert.Equal(t, "id-1", st.Schedule["2025-06-10"]["Tarefas"][0].RemoteID)

	st.Schedule["2025-06-10"]["Tarefas"][0].Completed = true
	_, err = s.Mirror(context.Background(), Snapshot{UserID: "u1", State: st.Clone()})
	require.NoError(t, err)

	assert.Equal(t, 1, remote.inserts)
	require.Len(t, remote.tasks, 1)
	assert.True(t, remote.tasks[0].Completed)
	assert.Equal(t, []store.HabitRow{{UserID: "u1", HabitName: "Gym", Date: "2025-06-10", Completed: true}}, remote.habits)
	assert.Equal(t, []int{1, 3}, remote.rules["u1"][0].Days)
}

func TestMirrorPropagatesDeletesAndFailures(t *testing.T) {
	remote := newFakeRemote()
	remote.tasks = []store.TaskRow{{ID: "gone", UserID: "u1", Day: "2025-06-10", Period: "Tarefas", Text: "Old"}}
	s := New(remote)

	_, err := s.Mirror(context.Background(), Snapshot{UserID: "u1", State: planner.NewState(), Deletes: []string{"gone"}})
	require.NoError(t, err)
	assert.Empty(t, remote.tasks)

	remote.failOn = "InsertTask"
	st := planner.NewState()
	st.Schedule["2025-06-10"] = map[string][]planner.TaskInstance{"Tarefas": {{Text: "New"}}}
	_, err = s.Mirror(context.Background(), Snapshot{UserID: "u1", State: st})
	assert.ErrorIs(t, err, ErrRemoteUnavailable)

	_, err = s.Mirror(context.Background(), Snapshot{State: st})
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestApplyAssignmentsReportsOrphans(t *testing.T) {
	st := planner.NewState()
	st.Schedule["2025-06-10"] = map[string][]planner.TaskInstance{"Tarefas": {{Text: "Moved up"}, {Text: "Laundry"}}}

	stored, orphans := ApplyAssignments(st, []Assignment{
		{Date: "2025-06-10", Period: "Tarefas", Index: 0, Text: "Laundry", RemoteID: "a"},
		{Date: "2025-06-10", Period: "Tarefas", Index: 0, Text: "Deleted", RemoteID: "b"},
	})
	assert.Equal(t, 1, stored)
	assert.Equal(t, []string{"b"}, orphans)
	assert.Equal(t, "a", st.Schedule["2025-06-10"]["Tarefas"][1].RemoteID)
}

func TestMigrateOnLoginUploadsToEmptyAccount(t *testing.T) {
	remote := newFakeRemote()
	s := New(remote)

	st := planner.NewState()
	st.Schedule["2025-06-10"] = map[string][]planner.TaskInstance{"Tarefas": {{Text: "A"}, {Text: "B"}}}
	st.Habits.Set("Gym", "2025-06-09", true)

	report, err := s.MigrateOnLogin(context.Background(), "u1", st)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Uploaded)
	assert.False(t, report.Replaced)
	for _, inst := range st.Schedule["2025-06-10"]["Tarefas"] {
		assert.NotEmpty(t, inst.RemoteID)
	}
	assert.Len(t, remote.habits, 1)

	// 第二次登录发现远程已有数据，改为加载而不是再次上传
	report, err = s.MigrateOnLogin(context.Background(), "u1", st)
	require.NoError(t, err)
	assert.True(t, report.Replaced)
	assert.Equal(t, 2, remote.inserts)
	assert.Equal(t, 2, st.Schedule.Len())
}

func TestMigrateOnLoginDiscardsLocalForExistingAccount(t *testing.T) {
	remote := newFakeRemote()
	remote.tasks = []store.TaskRow{{ID: "r1", UserID: "u1", Day: "2025-06-12", Period: "Tarefas", Text: "Remote"}}

	st := planner.NewState()
	st.Schedule["2025-06-10"] = map[string][]planner.TaskInstance{"Tarefas": {{Text: "Local"}}}

	report, err := New(remote).MigrateOnLogin(context.Background(), "u1", st)
	require.NoError(t, err)
	assert.True(t, report.Replaced)
	assert.Equal(t, []string{"2025-06-12"}, st.Schedule.Dates())
	assert.Zero(t, remote.inserts)
}

func TestRoundTripThroughRemote(t *testing.T) {
	remote := newFakeRemote()
	s := New(remote)

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	st := planner.NewState()
	st.Rules = []planner.RecurrenceRule{{ID: "gym", Text: "Gym", Days: planner.NewWeekdaySet(1, 3, 5), Priority: planner.PrioritySimple, CreatedAt: created}}
	st.Schedule["2025-06-10"] = map[string][]planner.TaskInstance{
		"Manhã":   {{Text: "Email", Completed: true, Priority: planner.PriorityUrgent}},
		"Tarefas": {{Text: "Laundry", Priority: planner.PriorityNone}},
	}
	st.Habits.Set("Gym", "2025-06-10", true)

	_, err := s.MigrateOnLogin(context.Background(), "u1", st)
	require.NoError(t, err)

	fresh := planner.NewState()
	result, err := s.Load(context.Background(), "u1")
	require.NoError(t, err)
	result.Apply(fresh)

	assert.Equal(t, st.Schedule, fresh.Schedule)
	assert.Equal(t, st.Habits, fresh.Habits)
	require.Len(t, fresh.Rules, 1)
	assert.Equal(t, "gym", fresh.Rules[0].ID)
	assert.Equal(t, st.Rules[0].Days, fresh.Rules[0].Days)
	assert.True(t, created.Equal(fresh.Rules[0].CreatedAt), "createdAt lost: %v", fresh.Rules[0].CreatedAt)
}

func TestMigrateOnLoginKeepsRemoteRulesWithoutTasks(t *testing.T) {
	remote := newFakeRemote()
	remote.rules["u1"] = []store.RuleRow{{ID: "remote-gym", UserID: "u1", Text: "Gym", Days: []int{0, 2}}}
	s := New(remote)

	st := planner.NewState()
	st.Rules = []planner.RecurrenceRule{{ID: "local-read", Text: "Read", Days: planner.NewWeekdaySet(6)}}
	st.Schedule["2025-06-10"] = map[string][]planner.TaskInstance{"Tarefas": {{Text: "Local"}}}

	report, err := s.MigrateOnLogin(context.Background(), "u1", st)
	require.NoError(t, err)
	assert.True(t, report.Replaced)
	assert.Zero(t, remote.inserts)
	require.Len(t, remote.rules["u1"], 1)
	assert.Equal(t, "remote-gym", remote.rules["u1"][0].ID)
	require.Len(t, st.Rules, 1)
	assert.Equal(t, "Gym", st.Rules[0].Text)
}

func TestQueueCoalescesPushes(t *testing.T) {
	var runs int32
	release := make(chan struct{})
	started := make(chan struct{}, 10)

	q := NewQueue(func(ctx context.Context, userID string) {
		started <- struct{}{}
		<-release
		atomic.AddInt32(&runs, 1)
	}, time.Second)

	require.True(t, q.Submit("u1"))
	<-started
	for i := 0; i < 5; i++ {
		q.Submit("u1")
	}
	close(release)
	q.Close()

	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	assert.False(t, q.Submit("u1"))
}

func TestQueueRunsUsersIndependently(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewQueue(func(ctx context.Context, userID string) {
		mu.Lock()
		seen = append(seen, userID)
		mu.Unlock()
	}, 0)

	q.Submit("a")
	q.Submit("b")
	q.Flush()

	sort.Strings(seen)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestQueueFlushWaitsForRunningPush(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue(func(ctx context.Context, userID string) {
		started <- struct{}{}
		<-release
	}, 0)

	require.True(t, q.Submit("u1"))
	<-started

	done := make(chan struct{})
	go func() {
		q.Flush()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Flush returned while a push was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush did not return after the push finished")
	}
}

func TestQueueConcurrentSubmitAndFlush(t *testing.T) {
	var runs int64
	q := NewQueue(func(ctx context.Context, userID string) {
		atomic.AddInt64(&runs, 1)
	}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%3)
			for j := 0; j < 200; j++ {
				q.Submit(user)
				q.Flush()
			}
		}(i)
	}
	wg.Wait()
	q.Close()

	assert.Positive(t, atomic.LoadInt64(&runs))
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.running)
	assert.Empty(t, q.pending)
}
