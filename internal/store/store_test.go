package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/flowly/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupStoreTestDB(t *testing.T) *GormStore {
	t.Helper()

	dsn := fmt.Sprintf("file:store-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.MigrateRemote(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormStore(gdb)
}

func TestTaskLifecycle(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, TaskRow{UserID: "u1", Day: "2025-06-10", Period: "Tarefas", Text: "Laundry", Color: "simple"})
	if err != nil {
		t.Fatalf("InsertTask returned error: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	if _, err := s.InsertTask(ctx, TaskRow{UserID: "u2", Day: "2025-06-10", Period: "Tarefas", Text: "Other"}); err != nil {
		t.Fatalf("InsertTask returned error: %v", err)
	}

	if err := s.UpdateTask(ctx, TaskRow{ID: id, UserID: "u1", Day: "2025-06-11", Period: "Noite", Text: "Laundry", Completed: true}); err != nil {
		t.Fatalf("UpdateTask returned error: %v", err)
	}

	rows, err := s.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTasks returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row for u1, got %d", len(rows))
	}
	if rows[0].Day != "2025-06-11" || rows[0].Period != "Noite" || !rows[0].Completed {
		t.Fatalf("update not applied: %+v", rows[0])
	}

	count, err := s.CountTasks(ctx, "u1")
	if err != nil || count != 1 {
		t.Fatalf("CountTasks = %d, %v", count, err)
	}

	if err := s.DeleteTasks(ctx, "u1", []string{id, "missing"}); err != nil {
		t.Fatalf("DeleteTasks returned error: %v", err)
	}
	if count, _ := s.CountTasks(ctx, "u1"); count != 0 {
		t.Fatalf("expected no rows after delete, got %d", count)
	}
	if count, _ := s.CountTasks(ctx, "u2"); count != 1 {
		t.Fatalf("delete must not touch other users, got %d", count)
	}
}

func TestUpdateTaskMissingRow(t *testing.T) {
	s := setupStoreTestDB(t)

	err := s.UpdateTask(context.Background(), TaskRow{ID: "nope", UserID: "u1", Text: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertHabitHistoryIsIdempotent(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()

	row := HabitRow{UserID: "u1", HabitName: "Gym", Date: "2025-06-10", Completed: true}
	if err := s.UpsertHabitHistory(ctx, []HabitRow{row}); err != nil {
		t.Fatalf("UpsertHabitHistory returned error: %v", err)
	}
	row.Completed = false
	if err := s.UpsertHabitHistory(ctx, []HabitRow{row, {UserID: "u1", HabitName: "Read", Date: "2025-06-10", Completed: true}}); err != nil {
		t.Fatalf("UpsertHabitHistory returned error: %v", err)
	}

	rows, err := s.ListHabitHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("ListHabitHistory returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.HabitName == "Gym" && r.Completed {
			t.Fatal("expected Gym completion to be overwritten")
		}
	}
}

func TestReplaceRulesKeepsOrder(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()

	if err := s.ReplaceRules(ctx, "u1", []RuleRow{{ID: "a", Text: "Old", Days: []int{0}}}); err != nil {
		t.Fatalf("ReplaceRules returned error: %v", err)
	}
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rules := []RuleRow{
		{ID: "gym", Text: "Gym", Days: []int{1, 3, 5}, Priority: "simple", CreatedAt: created},
		{ID: "read", Text: "Read", Days: []int{6}, CreatedAt: created.Add(time.Hour)},
	}
	if err := s.ReplaceRules(ctx, "u1", rules); err != nil {
		t.Fatalf("ReplaceRules returned error: %v", err)
	}

	got, err := s.ListRules(ctx, "u1")
	if err != nil {
		t.Fatalf("ListRules returned error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "gym" || got[1].ID != "read" {
		t.Fatalf("unexpected rules: %+v", got)
	}
	if fmt.Sprint(got[0].Days) != "[1 3 5]" || got[0].Priority != "simple" {
		t.Fatalf("unexpected rule fields: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(created) || !got[1].CreatedAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("expected creation stamps to survive, got %v and %v", got[0].CreatedAt, got[1].CreatedAt)
	}
}

func TestReplaceRulesFillsMissingCreatedAt(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()

	rules := []RuleRow{{ID: "a", Text: "A", Days: []int{0}}, {ID: "b", Text: "B", Days: []int{1}}}
	if err := s.ReplaceRules(ctx, "u1", rules); err != nil {
		t.Fatalf("ReplaceRules returned error: %v", err)
	}
	got, _ := s.ListRules(ctx, "u1")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected rules: %+v", got)
	}
	if got[0].CreatedAt.IsZero() || !got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Fatalf("expected increasing stamps, got %v and %v", got[0].CreatedAt, got[1].CreatedAt)
	}
}

func TestParseDaysSkipsGarbage(t *testing.T) {
	if got := fmt.Sprint(parseDays("1, x,9,,4")); got != "[1 4]" {
		t.Fatalf("parseDays = %s", got)
	}
	if got := formatDays([]int{0, 6}); got != "0,6" {
		t.Fatalf("formatDays = %s", got)
	}
}
