// Package store persists uploads, pages, and extraction schemas in the
// relational database. All methods are workspace-scoped where the HTTP
// surface is.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

// Store wraps the gorm handle with the queries the service needs.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to postgres and runs migrations.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := New(db, logger)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle. Used by tests with a sqlite handle.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger.With("component", "store")}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&User{},
		&Workspace{},
		&WorkspaceMember{},
		&Upload{},
		&Page{},
		&Schema{},
	)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for transactions.
func (s *Store) DB() *gorm.DB { return s.db }

// IsMember reports whether the user belongs to the workspace.
func (s *Store) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&WorkspaceMember{}).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return n > 0, nil
}

// CreateUpload inserts a new upload record.
func (s *Store) CreateUpload(ctx context.Context, u *Upload) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.State == "" {
		u.State = UploadQueued
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("creating upload: %w", err)
	}
	return nil
}

// GetUpload fetches an upload scoped to a workspace.
func (s *Store) GetUpload(ctx context.Context, workspaceID, id string) (*Upload, error) {
	var u Upload
	err := s.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "upload %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching upload %s: %w", id, err)
	}
	return &u, nil
}

// ListUploads returns the workspace's uploads, newest first.
func (s *Store) ListUploads(ctx context.Context, workspaceID string) ([]Upload, error) {
	var uploads []Upload
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Find(&uploads).Error
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	return uploads, nil
}

// UploadsInState returns uploads across workspaces in any of the given
// states, oldest first. Used by startup recovery.
func (s *Store) UploadsInState(ctx context.Context, states []string) ([]Upload, error) {
	var uploads []Upload
	err := s.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("created_at ASC").
		Find(&uploads).Error
	if err != nil {
		return nil, fmt.Errorf("listing uploads by state: %w", err)
	}
	return uploads, nil
}

// SaveUpload persists all fields of an upload.
func (s *Store) SaveUpload(ctx context.Context, u *Upload) error {
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return fmt.Errorf("saving upload %s: %w", u.ID, err)
	}
	return nil
}

// TransitionUpload moves an upload from one of the given states to another.
// Returns false without error when the upload is not in any `from` state,
// so concurrent runs settle on a single winner.
func (s *Store) TransitionUpload(ctx context.Context, id string, from []string, to string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Upload{}).
		Where("id = ? AND state IN ?", id, from).
		Update("state", to)
	if res.Error != nil {
		return false, fmt.Errorf("transitioning upload %s to %s: %w", id, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetUploadMessage records a status message.
func (s *Store) SetUploadMessage(ctx context.Context, id, message string) error {
	err := s.db.WithContext(ctx).Model(&Upload{}).
		Where("id = ?", id).
		Update("message", message).Error
	if err != nil {
		return fmt.Errorf("setting message on upload %s: %w", id, err)
	}
	return nil
}

// SetUploadProgress updates current_page only when it moves forward.
func (s *Store) SetUploadProgress(ctx context.Context, id string, currentPage int) error {
	err := s.db.WithContext(ctx).Model(&Upload{}).
		Where("id = ? AND current_page < ?", id, currentPage).
		Update("current_page", currentPage).Error
	if err != nil {
		return fmt.Errorf("updating progress on upload %s: %w", id, err)
	}
	return nil
}

// SetExtractState records auto-extraction state and result key.
func (s *Store) SetExtractState(ctx context.Context, id, state, csvKey string) error {
	err := s.db.WithContext(ctx).Model(&Upload{}).
		Where("id = ?", id).
		Updates(map[string]any{"extract_state": state, "extract_csv": csvKey}).Error
	if err != nil {
		return fmt.Errorf("updating extract state on upload %s: %w", id, err)
	}
	return nil
}

// DeleteUpload removes an upload and its pages.
func (s *Store) DeleteUpload(ctx context.Context, workspaceID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND workspace_id = ?", id, workspaceID).Delete(&Upload{})
		if res.Error != nil {
			return fmt.Errorf("deleting upload %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.NotFound, "upload %s not found", id)
		}
		if err := tx.Where("upload_id = ?", id).Delete(&Page{}).Error; err != nil {
			return fmt.Errorf("deleting pages of upload %s: %w", id, err)
		}
		return nil
	})
}

// ComparableUploads returns completed uploads of the same company, excluding
// the given one, newest first. Used to offer comparison targets.
func (s *Store) ComparableUploads(ctx context.Context, workspaceID, company, excludeID string) ([]Upload, error) {
	var uploads []Upload
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND company = ? AND id <> ? AND state = ?",
			workspaceID, company, excludeID, UploadDone).
		Order("created_at DESC").
		Find(&uploads).Error
	if err != nil {
		return nil, fmt.Errorf("listing comparable uploads: %w", err)
	}
	return uploads, nil
}

// UploadsNeedingExtraction returns the company's completed uploads whose
// auto-extraction never produced output. Used when a default schema appears.
func (s *Store) UploadsNeedingExtraction(ctx context.Context, workspaceID, company string) ([]Upload, error) {
	var uploads []Upload
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND company = ? AND state = ? AND (extract_state IN ? OR extract_state = '' OR extract_state IS NULL)",
			workspaceID, company, UploadDone, []string{ExtractNoConfig, ExtractError}).
		Find(&uploads).Error
	if err != nil {
		return nil, fmt.Errorf("listing uploads needing extraction: %w", err)
	}
	return uploads, nil
}

// ReplacePages deletes any existing pages and inserts fresh pending rows.
func (s *Store) ReplacePages(ctx context.Context, uploadID string, total int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upload_id = ?", uploadID).Delete(&Page{}).Error; err != nil {
			return fmt.Errorf("clearing pages of upload %s: %w", uploadID, err)
		}
		pages := make([]Page, 0, total)
		for n := 1; n <= total; n++ {
			pages = append(pages, Page{UploadID: uploadID, PageNum: n, State: PagePending})
		}
		if len(pages) == 0 {
			return nil
		}
		if err := tx.Create(&pages).Error; err != nil {
			return fmt.Errorf("creating pages of upload %s: %w", uploadID, err)
		}
		return nil
	})
}

// ResetPages returns every page of an upload to pending and clears errors.
// Markdown stays until the next OCR pass overwrites it.
func (s *Store) ResetPages(ctx context.Context, uploadID string) error {
	err := s.db.WithContext(ctx).Model(&Page{}).
		Where("upload_id = ?", uploadID).
		Updates(map[string]any{"state": PagePending, "error": ""}).Error
	if err != nil {
		return fmt.Errorf("resetting pages of upload %s: %w", uploadID, err)
	}
	return nil
}

// RecoverInterrupted marks uploads stranded in an active state as
// interrupted and reverts their running pages to pending. Called once on
// startup; returns how many uploads were recovered.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	var recovered int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Upload{}).
			Where("state IN ?", []string{UploadRendering, UploadParsing}).
			Update("state", UploadInterrupted)
		if res.Error != nil {
			return fmt.Errorf("marking interrupted uploads: %w", res.Error)
		}
		recovered = res.RowsAffected
		if err := tx.Model(&Page{}).
			Where("state = ?", PageRunning).
			Update("state", PagePending).Error; err != nil {
			return fmt.Errorf("reverting running pages: %w", err)
		}
		return nil
	})
	return int(recovered), err
}

// GetPage fetches one page of an upload.
func (s *Store) GetPage(ctx context.Context, uploadID string, pageNum int) (*Page, error) {
	var p Page
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND page_num = ?", uploadID, pageNum).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "page %d of upload %s not found", pageNum, uploadID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching page %d of upload %s: %w", pageNum, uploadID, err)
	}
	return &p, nil
}

// ListPages returns all pages of an upload in page order.
func (s *Store) ListPages(ctx context.Context, uploadID string) ([]Page, error) {
	var pages []Page
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("page_num ASC").
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("listing pages of upload %s: %w", uploadID, err)
	}
	return pages, nil
}

// PagesInState returns page numbers currently in any of the given states.
func (s *Store) PagesInState(ctx context.Context, uploadID string, states []string) ([]int, error) {
	var nums []int
	err := s.db.WithContext(ctx).Model(&Page{}).
		Where("upload_id = ? AND state IN ?", uploadID, states).
		Order("page_num ASC").
		Pluck("page_num", &nums).Error
	if err != nil {
		return nil, fmt.Errorf("listing pages of upload %s by state: %w", uploadID, err)
	}
	return nums, nil
}

// SetPageState records a page transition, replacing markdown and error.
func (s *Store) SetPageState(ctx context.Context, uploadID string, pageNum int, state, markdown, pageErr string) error {
	updates := map[string]any{"state": state, "error": pageErr}
	if state == PageDone {
		updates["markdown"] = markdown
	}
	err := s.db.WithContext(ctx).Model(&Page{}).
		Where("upload_id = ? AND page_num = ?", uploadID, pageNum).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("updating page %d of upload %s: %w", pageNum, uploadID, err)
	}
	return nil
}

// SetPageMarkdown replaces a done page's markdown (correction apply path).
func (s *Store) SetPageMarkdown(ctx context.Context, uploadID string, pageNum int, markdown string) error {
	err := s.db.WithContext(ctx).Model(&Page{}).
		Where("upload_id = ? AND page_num = ?", uploadID, pageNum).
		Update("markdown", markdown).Error
	if err != nil {
		return fmt.Errorf("updating markdown of page %d of upload %s: %w", pageNum, uploadID, err)
	}
	return nil
}

// CountTerminalPages counts pages that reached done or error.
func (s *Store) CountTerminalPages(ctx context.Context, uploadID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Page{}).
		Where("upload_id = ? AND state IN ?", uploadID, TerminalPageStates).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting finished pages of upload %s: %w", uploadID, err)
	}
	return int(n), nil
}

// CountPagesInState counts pages in a single state.
func (s *Store) CountPagesInState(ctx context.Context, uploadID, state string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Page{}).
		Where("upload_id = ? AND state = ?", uploadID, state).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting %s pages of upload %s: %w", state, uploadID, err)
	}
	return int(n), nil
}

// CreateSchema inserts a new extraction schema.
func (s *Store) CreateSchema(ctx context.Context, sc *Schema) error {
	if sc.ID == "" {
		sc.ID = NewID()
	}
	if err := s.db.WithContext(ctx).Create(sc).Error; err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// GetSchema fetches a schema scoped to a workspace.
func (s *Store) GetSchema(ctx context.Context, workspaceID, id string) (*Schema, error) {
	var sc Schema
	err := s.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "schema %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching schema %s: %w", id, err)
	}
	return &sc, nil
}

// ListSchemas returns a company's schemas, default first then newest.
func (s *Store) ListSchemas(ctx context.Context, workspaceID, company string) ([]Schema, error) {
	var schemas []Schema
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND company = ?", workspaceID, company).
		Order("is_default DESC, created_at DESC").
		Find(&schemas).Error
	if err != nil {
		return nil, fmt.Errorf("listing schemas: %w", err)
	}
	return schemas, nil
}

// DefaultSchema returns the company's default schema, or nil when none is set.
func (s *Store) DefaultSchema(ctx context.Context, workspaceID, company string) (*Schema, error) {
	var sc Schema
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND company = ? AND is_default", workspaceID, company).
		First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching default schema: %w", err)
	}
	return &sc, nil
}

// SetDefaultSchema marks one schema as the company default, clearing others.
func (s *Store) SetDefaultSchema(ctx context.Context, workspaceID, id string) (*Schema, error) {
	var sc Schema
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND workspace_id = ?", id, workspaceID).First(&sc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.NotFound, "schema %s not found", id)
			}
			return fmt.Errorf("fetching schema %s: %w", id, err)
		}
		if err := tx.Model(&Schema{}).
			Where("workspace_id = ? AND company = ?", workspaceID, sc.Company).
			Update("is_default", false).Error; err != nil {
			return fmt.Errorf("clearing default schemas: %w", err)
		}
		if err := tx.Model(&Schema{}).Where("id = ?", id).Update("is_default", true).Error; err != nil {
			return fmt.Errorf("setting default schema %s: %w", id, err)
		}
		sc.IsDefault = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// DeleteSchema removes a schema.
func (s *Store) DeleteSchema(ctx context.Context, workspaceID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		Delete(&Schema{})
	if res.Error != nil {
		return fmt.Errorf("deleting schema %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "schema %s not found", id)
	}
	return nil
}
