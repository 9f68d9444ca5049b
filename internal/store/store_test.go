package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	s := New(db, slog.Default())
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return s
}

func seedUpload(t *testing.T, s *Store, workspaceID, company, state string) *Upload {
	t.Helper()
	u := &Upload{
		WorkspaceID: workspaceID,
		UserID:      "user-1",
		Filename:    "list.pdf",
		Company:     company,
		State:       state,
	}
	if err := s.CreateUpload(context.Background(), u); err != nil {
		t.Fatalf("creating upload: %v", err)
	}
	return u
}

func TestNewID(t *testing.T) {
	id := NewID()
	if len(id) != 12 {
		t.Fatalf("expected 12-char id, got %q", id)
	}
	if id == NewID() {
		t.Fatal("expected distinct ids")
	}
}

func TestUploadScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUpload(t, s, "ws-a", "schneider", UploadQueued)

	t.Run("found in own workspace", func(t *testing.T) {
		got, err := s.GetUpload(ctx, "ws-a", u.ID)
		if err != nil {
			t.Fatalf("GetUpload: %v", err)
		}
		if got.Filename != "list.pdf" {
			t.Errorf("unexpected filename %q", got.Filename)
		}
	})

	t.Run("not found in other workspace", func(t *testing.T) {
		_, err := s.GetUpload(ctx, "ws-b", u.ID)
		if !apperr.IsKind(err, apperr.NotFound) {
			t.Fatalf("expected not_found, got %v", err)
		}
	})
}

func TestTransitionUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUpload(t, s, "ws-a", "schneider", UploadQueued)

	t.Run("moves from expected state", func(t *testing.T) {
		ok, err := s.TransitionUpload(ctx, u.ID, []string{UploadQueued}, UploadRendering)
		if err != nil {
			t.Fatalf("TransitionUpload: %v", err)
		}
		if !ok {
			t.Fatal("expected transition to win")
		}
	})

	t.Run("loses when state moved on", func(t *testing.T) {
		ok, err := s.TransitionUpload(ctx, u.ID, []string{UploadQueued}, UploadRendering)
		if err != nil {
			t.Fatalf("TransitionUpload: %v", err)
		}
		if ok {
			t.Fatal("expected transition to lose")
		}
	})
}

func TestSetUploadProgressMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUpload(t, s, "ws-a", "schneider", UploadParsing)

	if err := s.SetUploadProgress(ctx, u.ID, 5); err != nil {
		t.Fatal(err)
	}
	// A stale writer must not move progress backwards.
	if err := s.SetUploadProgress(ctx, u.ID, 3); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUpload(ctx, "ws-a", u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentPage != 5 {
		t.Errorf("expected current_page 5, got %d", got.CurrentPage)
	}
}

func TestPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUpload(t, s, "ws-a", "schneider", UploadParsing)

	if err := s.ReplacePages(ctx, u.ID, 3); err != nil {
		t.Fatalf("ReplacePages: %v", err)
	}

	t.Run("replace resets to pending", func(t *testing.T) {
		pages, err := s.ListPages(ctx, u.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(pages) != 3 {
			t.Fatalf("expected 3 pages, got %d", len(pages))
		}
		for _, p := range pages {
			if p.State != PagePending {
				t.Errorf("page %d state %q", p.PageNum, p.State)
			}
		}
	})

	t.Run("terminal count tracks done and error", func(t *testing.T) {
		if err := s.SetPageState(ctx, u.ID, 1, PageDone, "# page one", ""); err != nil {
			t.Fatal(err)
		}
		if err := s.SetPageState(ctx, u.ID, 2, PageError, "", "ocr failed"); err != nil {
			t.Fatal(err)
		}
		n, err := s.CountTerminalPages(ctx, u.ID)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("expected 2 terminal pages, got %d", n)
		}
	})

	t.Run("markdown kept only on done", func(t *testing.T) {
		p, err := s.GetPage(ctx, u.ID, 2)
		if err != nil {
			t.Fatal(err)
		}
		if p.Markdown != "" {
			t.Errorf("expected empty markdown on errored page, got %q", p.Markdown)
		}
		if p.Error != "ocr failed" {
			t.Errorf("unexpected error text %q", p.Error)
		}
	})

	t.Run("pages in state", func(t *testing.T) {
		nums, err := s.PagesInState(ctx, u.ID, []string{PagePending})
		if err != nil {
			t.Fatal(err)
		}
		if len(nums) != 1 || nums[0] != 3 {
			t.Errorf("expected [3], got %v", nums)
		}
	})
}

func TestSchemaDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Schema{WorkspaceID: "ws-a", Company: "schneider", Name: "first", Fields: []byte(`{"reference":0}`), IsDefault: true}
	b := &Schema{WorkspaceID: "ws-a", Company: "schneider", Name: "second", Fields: []byte(`{"reference":1}`)}
	for _, sc := range []*Schema{a, b} {
		if err := s.CreateSchema(ctx, sc); err != nil {
			t.Fatalf("CreateSchema: %v", err)
		}
	}

	if _, err := s.SetDefaultSchema(ctx, "ws-a", b.ID); err != nil {
		t.Fatalf("SetDefaultSchema: %v", err)
	}

	def, err := s.DefaultSchema(ctx, "ws-a", "schneider")
	if err != nil {
		t.Fatal(err)
	}
	if def == nil || def.ID != b.ID {
		t.Fatalf("expected %s as default, got %+v", b.ID, def)
	}

	schemas, err := s.ListSchemas(ctx, "ws-a", "schneider")
	if err != nil {
		t.Fatal(err)
	}
	defaults := 0
	for _, sc := range schemas {
		if sc.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("expected exactly one default, got %d", defaults)
	}
}

func TestComparableUploads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := seedUpload(t, s, "ws-a", "schneider", UploadDone)
	other := seedUpload(t, s, "ws-a", "schneider", UploadDone)
	seedUpload(t, s, "ws-a", "schneider", UploadParsing) // not finished
	seedUpload(t, s, "ws-a", "hager", UploadDone)        // other company
	seedUpload(t, s, "ws-b", "schneider", UploadDone)    // other workspace

	got, err := s.ComparableUploads(ctx, "ws-a", "schneider", base.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != other.ID {
		t.Fatalf("expected only %s, got %+v", other.ID, got)
	}
}

func TestUploadsNeedingExtraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	noConfig := seedUpload(t, s, "ws-a", "schneider", UploadDone)
	if err := s.SetExtractState(ctx, noConfig.ID, ExtractNoConfig, ""); err != nil {
		t.Fatal(err)
	}
	done := seedUpload(t, s, "ws-a", "schneider", UploadDone)
	if err := s.SetExtractState(ctx, done.ID, ExtractDone, "output/x.csv"); err != nil {
		t.Fatal(err)
	}
	never := seedUpload(t, s, "ws-a", "schneider", UploadDone)

	got, err := s.UploadsNeedingExtraction(ctx, "ws-a", "schneider")
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, u := range got {
		ids[u.ID] = true
	}
	if !ids[noConfig.ID] || !ids[never.ID] || ids[done.ID] {
		t.Fatalf("unexpected set %v", ids)
	}
}
