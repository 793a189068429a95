package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

type threadRecord struct {
	ID         int64  `gorm:"primaryKey"`
	CategoryID int64  `gorm:"index"`
	Title      string `gorm:"size:255"`
	UserID     int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (threadRecord) TableName() string { return "threads" }

type messageRecord struct {
	ID         int64  `gorm:"primaryKey"`
	ThreadID   int64  `gorm:"uniqueIndex:idx_thread_post_number"`
	PostNumber int    `gorm:"uniqueIndex:idx_thread_post_number"`
	UserID     int64  `gorm:"index"`
	Raw        string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (messageRecord) TableName() string { return "messages" }

type userRecord struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Username string `gorm:"size:64;uniqueIndex"`
	Name     string `gorm:"size:255"`
	Email    string `gorm:"size:255;index"`
}

func (userRecord) TableName() string { return "users" }

type threadFieldRecord struct {
	ID       int64  `gorm:"primaryKey"`
	ThreadID int64  `gorm:"uniqueIndex:idx_thread_field"`
	Name     string `gorm:"size:128;uniqueIndex:idx_thread_field"`
	Value    string `gorm:"size:255"`
}

func (threadFieldRecord) TableName() string { return "thread_custom_fields" }

type messageFieldRecord struct {
	ID        int64  `gorm:"primaryKey"`
	MessageID int64  `gorm:"uniqueIndex:idx_message_field"`
	Name      string `gorm:"size:128;uniqueIndex:idx_message_field;uniqueIndex:idx_message_field_value,priority:1"`
	Value     string `gorm:"size:191;uniqueIndex:idx_message_field_value,priority:2"`
}

func (messageFieldRecord) TableName() string { return "message_custom_fields" }

// Open connects to the forum database. driver is "sqlite" or "mysql".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.New(mysql.Config{DSN: dsn, SkipInitializeWithVersion: true})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		// sqlite serializes writers; one connection also keeps :memory: databases shared.
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates the forum tables and the system user.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&userRecord{}, &threadRecord{}, &messageRecord{},
		&threadFieldRecord{}, &messageFieldRecord{}); err != nil {
		return fmt.Errorf("failed to migrate forum schema: %w", err)
	}
	system := userRecord{ID: models.SystemUserID, Username: "system", Name: "system"}
	if err := db.Where(userRecord{ID: models.SystemUserID}).FirstOrCreate(&system).Error; err != nil {
		return fmt.Errorf("failed to seed system user: %w", err)
	}
	return nil
}

// GormStore implements Store and MetadataStore on a relational database and
// publishes lifecycle events after each write commits.
type GormStore struct {
	db        *gorm.DB
	publisher Publisher
	baseURL   string
}

// NewGormStore creates a new GormStore. baseURL is used to build thread and
// message links; publisher may be nil.
func NewGormStore(db *gorm.DB, publisher Publisher, baseURL string) *GormStore {
	return &GormStore{db: db, publisher: publisher, baseURL: baseURL}
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %d: %w", what, id, err)
}

func (s *GormStore) threadURL(id int64) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/t/%d", s.baseURL, id)
}

func (s *GormStore) toThread(r threadRecord) *models.Thread {
	return &models.Thread{ID: r.ID, CategoryID: r.CategoryID, Title: r.Title, UserID: r.UserID, URL: s.threadURL(r.ID)}
}

func (s *GormStore) toMessage(r messageRecord) models.Message {
	m := models.Message{ID: r.ID, ThreadID: r.ThreadID, UserID: r.UserID, Raw: r.Raw, PostNumber: r.PostNumber}
	if u := s.threadURL(r.ThreadID); u != "" {
		m.URL = fmt.Sprintf("%s/%d", u, r.PostNumber)
	}
	return m
}

func toUser(r userRecord) *models.User {
	return &models.User{ID: r.ID, Username: r.Username, Name: r.Name, Email: r.Email}
}

func (s *GormStore) Thread(ctx context.Context, id int64) (*models.Thread, error) {
	var r threadRecord
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err, "thread", id)
	}
	return s.toThread(r), nil
}

func (s *GormStore) Message(ctx context.Context, id int64) (*models.Message, error) {
	var r messageRecord
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err, "message", id)
	}
	m := s.toMessage(r)
	return &m, nil
}

func (s *GormStore) User(ctx context.Context, id int64) (*models.User, error) {
	var r userRecord
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return toUser(r), nil
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var r userRecord
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user with email %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return toUser(r), nil
}

func (s *GormStore) Messages(ctx context.Context, threadID int64) ([]models.Message, error) {
	var rows []messageRecord
	if err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Order("post_number").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages of thread %d: %w", threadID, err)
	}
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.toMessage(r))
	}
	return out, nil
}

// CreateUser inserts a user. A zero ID is assigned the next free id.
func (s *GormStore) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	r := userRecord{ID: u.ID, Username: u.Username, Name: u.Name, Email: u.Email}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.ID == 0 {
			var maxID int64
			if err := tx.Model(&userRecord{}).Where("id > 0").Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
				return err
			}
			r.ID = maxID + 1
		}
		return tx.Create(&r).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return toUser(r), nil
}

// CreateThread inserts a thread together with its first message.
func (s *GormStore) CreateThread(ctx context.Context, title string, categoryID, userID int64, raw string) (*models.Thread, *models.Message, error) {
	t := threadRecord{Title: title, CategoryID: categoryID, UserID: userID}
	m := messageRecord{UserID: userID, Raw: raw, PostNumber: 1}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		m.ThreadID = t.ID
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create thread: %w", err)
	}

	msg := s.toMessage(m)
	s.publishMessageCreated(ctx, msg)
	return s.toThread(t), &msg, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, nm NewMessage) (*models.Message, error) {
	var r messageRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t threadRecord
		if err := tx.First(&t, nm.ThreadID).Error; err != nil {
			return notFound(err, "thread", nm.ThreadID)
		}
		var last int
		if err := tx.Model(&messageRecord{}).Where("thread_id = ?", nm.ThreadID).
			Select("COALESCE(MAX(post_number), 0)").Scan(&last).Error; err != nil {
			return err
		}
		r = messageRecord{ThreadID: nm.ThreadID, UserID: nm.UserID, Raw: nm.Raw, PostNumber: last + 1}
		if err := tx.Create(&r).Error; err != nil {
			return err
		}
		for name, value := range nm.Fields {
			if err := upsertMessageField(tx, r.ID, name, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if dup := s.takenField(ctx, nm.Fields); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	msg := s.toMessage(r)
	s.publishMessageCreated(ctx, msg)
	return &msg, nil
}

func (s *GormStore) SetThreadCategory(ctx context.Context, threadID, categoryID int64) error {
	var old int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t threadRecord
		if err := tx.First(&t, threadID).Error; err != nil {
			return notFound(err, "thread", threadID)
		}
		old = t.CategoryID
		return tx.Model(&t).Update("category_id", categoryID).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to update thread category: %w", err)
	}
	if old == categoryID || s.publisher == nil {
		return nil
	}

	e := ThreadUpdated{ThreadID: threadID, OldCategoryID: old, NewCategoryID: categoryID}
	if err := s.publisher.PublishThreadUpdated(ctx, e); err != nil {
		logging.Errorw("failed to publish thread update", "thread_id", threadID, "error", err)
	}
	return nil
}

func (s *GormStore) publishMessageCreated(ctx context.Context, m models.Message) {
	if s.publisher == nil {
		return
	}
	e := MessageCreated{MessageID: m.ID, ThreadID: m.ThreadID, UserID: m.UserID}
	if err := s.publisher.PublishMessageCreated(ctx, e); err != nil {
		logging.Errorw("failed to publish message creation", "message_id", m.ID, "error", err)
	}
}

func (s *GormStore) ThreadField(ctx context.Context, threadID int64, name string) (string, error) {
	var r threadFieldRecord
	err := s.db.WithContext(ctx).Where("thread_id = ? AND name = ?", threadID, name).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read thread field %s: %w", name, err)
	}
	return r.Value, nil
}

func (s *GormStore) SetThreadField(ctx context.Context, threadID int64, name, value string) error {
	r := threadFieldRecord{ThreadID: threadID, Name: name, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("failed to write thread field %s: %w", name, err)
	}
	return nil
}

func (s *GormStore) MessageField(ctx context.Context, messageID int64, name string) (string, error) {
	var r messageFieldRecord
	err := s.db.WithContext(ctx).Where("message_id = ? AND name = ?", messageID, name).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read message field %s: %w", name, err)
	}
	return r.Value, nil
}

func (s *GormStore) SetMessageField(ctx context.Context, messageID int64, name, value string) error {
	if err := upsertMessageField(s.db.WithContext(ctx), messageID, name, value); err != nil {
		if dup := s.takenField(ctx, map[string]string{name: value}); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to write message field %s: %w", name, err)
	}
	return nil
}

// takenField explains a failed field write: it returns an ErrDuplicate when
// one of fields is already held by a message, nil otherwise.
func (s *GormStore) takenField(ctx context.Context, fields map[string]string) error {
	for name, value := range fields {
		var n int64
		err := s.db.WithContext(ctx).Model(&messageFieldRecord{}).
			Where("name = ? AND value = ?", name, value).Count(&n).Error
		if err == nil && n > 0 {
			return fmt.Errorf("message field %s=%s: %w", name, value, ErrDuplicate)
		}
	}
	return nil
}

func (s *GormStore) MessageByField(ctx context.Context, name, value string) (*models.Message, error) {
	var f messageFieldRecord
	err := s.db.WithContext(ctx).Where("name = ? AND value = ?", name, value).Order("id").First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message with %s=%s: %w", name, value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by field %s: %w", name, err)
	}
	return s.Message(ctx, f.MessageID)
}

func upsertMessageField(db *gorm.DB, messageID int64, name, value string) error {
	r := messageFieldRecord{MessageID: messageID, Name: name, Value: value}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&r).Error
}
