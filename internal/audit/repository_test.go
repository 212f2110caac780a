package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/database"
	_ "github.com/nerrad567/sweiot-link/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "audit.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRepository_CreateAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: ActionLogin, EntityType: EntityUser, EntityID: "alice", Source: SourceAPI, CreatedAt: base},
		{Action: ActionCommand, EntityType: EntityDevice, EntityID: "dev-1", Source: SourceLink,
			Details: map[string]any{"command": "version?"}, CreatedAt: base.Add(time.Second)},
		{Action: ActionCommand, EntityType: EntityDevice, EntityID: "dev-2", Source: SourceLink,
			CreatedAt: base.Add(1500 * time.Millisecond)},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if entries[i].ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 || all.Limit != defaultLimit {
		t.Fatalf("List() = total %d, %d entries, limit %d", all.Total, len(all.Entries), all.Limit)
	}
	if all.Entries[0].EntityID != "dev-2" {
		t.Errorf("newest entry = %q, want dev-2", all.Entries[0].EntityID)
	}

	cmds, err := repo.List(ctx, Filter{Action: ActionCommand, EntityID: "dev-1"})
	if err != nil {
		t.Fatalf("List(filter) error = %v", err)
	}
	if cmds.Total != 1 || cmds.Entries[0].Details["command"] != "version?" {
		t.Errorf("List(filter) = %+v", cmds)
	}

	recent, err := repo.List(ctx, Filter{Since: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("List(since) error = %v", err)
	}
	if recent.Total != 2 {
		t.Errorf("List(since) total = %d, want 2", recent.Total)
	}
}

func TestRepository_ListPaging(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for range 3 {
		if err := repo.Create(ctx, &Entry{Action: ActionSelect, EntityType: EntityDevice, Source: SourceMQTT}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 3 || len(page.Entries) != 1 {
		t.Errorf("page = total %d, %d entries", page.Total, len(page.Entries))
	}

	big, err := repo.List(ctx, Filter{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if big.Limit != maxLimit || big.Offset != 0 {
		t.Errorf("clamped limit/offset = %d/%d", big.Limit, big.Offset)
	}
}

func TestRecorder(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(repo, nil)

	rec.OnCommandSent(channel.Command{Channel: channel.Relay, DeviceID: "n1", Text: "version?", Time: time.Now()})
	rec.OnCommandSent(channel.Command{Channel: channel.Local, DeviceID: "d1", Text: "sys:?", Err: errors.New("ble: write failed")})
	rec.OnSessionExpired()
	rec.OnMessage(channel.Message{})
	rec.OnStatusChange("ignored")

	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("Total = %d, want 3", res.Total)
	}

	failed, _ := repo.List(context.Background(), Filter{Action: ActionCommandFailed})
	if failed.Total != 1 || failed.Entries[0].Details["error"] != "ble: write failed" {
		t.Errorf("failed commands = %+v", failed.Entries)
	}
	relay, _ := repo.List(context.Background(), Filter{Action: ActionCommand})
	if relay.Total != 1 || relay.Entries[0].Details["channel"] != "relay" {
		t.Errorf("commands = %+v", relay.Entries)
	}
}
