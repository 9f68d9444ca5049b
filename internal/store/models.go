package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Upload lifecycle states.
const (
	UploadQueued      = "queued"
	UploadRendering   = "rendering"
	UploadParsing     = "parsing"
	UploadDone        = "done"
	UploadError       = "error"
	UploadInterrupted = "interrupted"
)

// Page OCR states.
const (
	PagePending = "pending"
	PageRunning = "running"
	PageDone    = "done"
	PageError   = "error"
)

// Auto-extraction states.
const (
	ExtractRunning  = "running"
	ExtractDone     = "done"
	ExtractError    = "error"
	ExtractNoConfig = "no_config"
)

// ActiveUploadStates are the states in which a pipeline run owns the upload.
var ActiveUploadStates = []string{UploadQueued, UploadRendering, UploadParsing}

// TerminalPageStates are the page states counted toward progress.
var TerminalPageStates = []string{PageDone, PageError}

// NewID returns a 12-hex identifier for uploads and schemas.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// User is an account known to the identity service. This service only reads
// users to attribute uploads; account lifecycle lives elsewhere.
type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

// Workspace groups uploads and schemas for a team.
type Workspace struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	OwnerID   string    `gorm:"type:varchar(36);not null" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Workspace) TableName() string { return "workspaces" }

// WorkspaceMember links a user to a workspace with a role.
type WorkspaceMember struct {
	WorkspaceID string    `gorm:"type:varchar(36);primaryKey" json:"workspace_id"`
	UserID      string    `gorm:"type:varchar(36);primaryKey" json:"user_id"`
	Role        string    `gorm:"type:varchar(20);not null;default:member" json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

func (WorkspaceMember) TableName() string { return "workspace_members" }

// Upload is one ingested pricelist document.
type Upload struct {
	ID           string    `gorm:"type:varchar(12);primaryKey" json:"id"`
	WorkspaceID  string    `gorm:"type:varchar(36);index" json:"workspace_id"`
	UserID       string    `gorm:"type:varchar(36)" json:"user_id"`
	Filename     string    `gorm:"type:varchar(255);not null" json:"filename"`
	Company      string    `gorm:"type:varchar(100);not null" json:"company"`
	Year         int       `json:"year"`
	Month        int       `json:"month"`
	PDFKey       string    `gorm:"type:varchar(500)" json:"pdf_key"`
	State        string    `gorm:"type:varchar(20);not null;default:queued;index" json:"state"`
	Message      string    `gorm:"type:text" json:"message"`
	TotalPages   int       `json:"total_pages"`
	CurrentPage  int       `json:"current_page"`
	ExtractState string    `gorm:"type:varchar(20)" json:"extract_state,omitempty"`
	ExtractCSV   string    `gorm:"type:varchar(255)" json:"extract_csv,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Upload) TableName() string { return "uploads" }

// Active reports whether a pipeline run currently owns the upload.
func (u *Upload) Active() bool {
	switch u.State {
	case UploadQueued, UploadRendering, UploadParsing:
		return true
	}
	return false
}

// Page is one rendered-and-OCRed page of an upload.
type Page struct {
	UploadID string `gorm:"type:varchar(12);primaryKey" json:"upload_id"`
	PageNum  int    `gorm:"primaryKey" json:"page_num"`
	Markdown string `gorm:"type:text" json:"markdown"`
	State    string `gorm:"type:varchar(20);not null;default:pending" json:"state"`
	Error    string `gorm:"type:text" json:"error,omitempty"`
}

func (Page) TableName() string { return "pages" }

// Schema is a saved extraction configuration for a company's pricelists.
// Fields holds the JSON-encoded column mapping.
type Schema struct {
	ID          string         `gorm:"type:varchar(12);primaryKey" json:"id"`
	WorkspaceID string         `gorm:"type:varchar(36);index" json:"workspace_id"`
	Company     string         `gorm:"type:varchar(100);not null;index" json:"company"`
	Name        string         `gorm:"type:varchar(255);not null" json:"name"`
	Fields      datatypes.JSON `gorm:"not null" json:"fields"`
	IsDefault   bool           `gorm:"default:false" json:"is_default"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (Schema) TableName() string { return "schemas" }
