package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrChannelExists is returned when adding a handle that is already active.
	ErrChannelExists = errors.New("channel already tracked")
)

// Channel is one tracked messaging channel. Channels are soft-deleted by
// clearing IsActive; IsMember is owned by the worker.
type Channel struct {
	ID                 int64     `db:"id" json:"id"`
	Handle             string    `db:"handle" json:"handle"`
	Title              string    `db:"title" json:"title"`
	InviteToken        *string   `db:"invite_token" json:"invite_token,omitempty"`
	Category           *string   `db:"category" json:"category,omitempty"`
	PlatformID         *int64    `db:"platform_id" json:"platform_id,omitempty"`
	PreviousPlatformID *int64    `db:"previous_platform_id" json:"previous_platform_id,omitempty"`
	IsActive           bool      `db:"is_active" json:"is_active"`
	IsMember           bool      `db:"is_member" json:"is_member"`
	AddedBy            *int64    `db:"added_by" json:"added_by,omitempty"`
	AddedAt            time.Time `db:"added_at" json:"added_at"`
}

// Invite returns the invite token or "".
func (c *Channel) Invite() string {
	if c.InviteToken == nil {
		return ""
	}
	return *c.InviteToken
}

// CategoryName returns the category or "".
func (c *Channel) CategoryName() string {
	if c.Category == nil {
		return ""
	}
	return *c.Category
}

// PlatformIDValue returns the platform id or 0.
func (c *Channel) PlatformIDValue() int64 {
	if c.PlatformID == nil {
		return 0
	}
	return *c.PlatformID
}

// StatSample is one append-only observation of a channel. Change fields are
// relative to the previous sample of the same channel.
type StatSample struct {
	ID             int64     `db:"id" json:"id"`
	ChannelID      int64     `db:"channel_id" json:"channel_id"`
	RecordedAt     time.Time `db:"recorded_at" json:"recorded_at"`
	MemberCount    int       `db:"member_count" json:"member_count"`
	ViewsCount     int       `db:"views_count" json:"views_count"`
	PostsCount     int       `db:"posts_count" json:"posts_count"`
	MemberChange   int       `db:"member_change" json:"member_change"`
	ViewsChange    int       `db:"views_change" json:"views_change"`
	PostsChange    int       `db:"posts_change" json:"posts_change"`
	PositiveChange bool      `db:"positive_change" json:"positive_change"`
}

// ChannelStat pairs an active channel with its most recent sample, if any.
type ChannelStat struct {
	Channel Channel
	Latest  *StatSample
}

// Admin is an operator allowed to use the administrative surface.
type Admin struct {
	ID       int64     `db:"id" json:"id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	Username string    `db:"username" json:"username"`
	AddedAt  time.Time `db:"added_at" json:"added_at"`
}

// NewChannel is the input for AddChannel.
type NewChannel struct {
	Handle      string
	Title       string
	InviteToken string
	Category    string
	AddedBy     int64
}

// ChannelListOpts filters ListChannels. Nil flags match any value.
type ChannelListOpts struct {
	Active   *bool
	Member   *bool
	Category string
}

// Store is the persistence interface.
type Store interface {
	// AddChannel inserts a channel, or reactivates a soft-deleted row with the
	// same handle. reactivated reports which happened.
	AddChannel(ctx context.Context, in NewChannel) (ch *Channel, reactivated bool, err error)
	RemoveChannel(ctx context.Context, id int64) error
	GetChannel(ctx context.Context, id int64) (*Channel, error)
	GetChannelByHandle(ctx context.Context, handle string) (*Channel, error)
	ListChannels(ctx context.Context, opts ChannelListOpts) ([]Channel, error)
	JoinCandidates(ctx context.Context) ([]Channel, error)
	LeaveCandidates(ctx context.Context) ([]Channel, error)
	SampleTargets(ctx context.Context) ([]Channel, error)
	SetMember(ctx context.Context, id int64, member bool) error
	MarkJoined(ctx context.Context, id, platformID int64, title string) error
	UpdateTitle(ctx context.Context, id int64, title string) error
	UpdatePlatformID(ctx context.Context, id, platformID int64) error
	SetCategory(ctx context.Context, id int64, category string) error

	AddSample(ctx context.Context, s *StatSample) error
	LastSample(ctx context.Context, channelID int64) (*StatSample, error)
	FirstSample(ctx context.Context, channelID int64) (*StatSample, error)
	SampleOnDate(ctx context.Context, channelID int64, date time.Time) (*StatSample, error)
	ListSamples(ctx context.Context, channelID int64, limit int) ([]StatSample, error)
	LatestStats(ctx context.Context, category string) ([]ChannelStat, error)
	ResetDeltas(ctx context.Context, channelID int64) error
	ResetAllDeltas(ctx context.Context) error

	AddCategory(ctx context.Context, name string) (bool, error)
	DeleteCategory(ctx context.Context, name string) error
	ListCategories(ctx context.Context) ([]string, error)
	CategoriesWithActiveChannels(ctx context.Context) ([]string, error)
	CountChannelsInCategory(ctx context.Context, name string) (int, error)
	SyncCategories(ctx context.Context) (int, error)
	CleanupCategories(ctx context.Context) (int, error)

	AddAdmin(ctx context.Context, userID int64, username string) (bool, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	ListAdmins(ctx context.Context) ([]Admin, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations. Times are written in the
// SQLite text format so date() works on them.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
