package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/services"
)

// Store implements services.CallStore and services.UserStore on gorm
type Store struct {
	db *gorm.DB
}

var (
	_ services.CallStore = (*Store)(nil)
	_ services.UserStore = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateCall(ctx context.Context, call *models.Call) error {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(call).Error
}

func (s *Store) GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	var call models.Call
	if err := s.db.WithContext(ctx).First(&call, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrCallNotFound
		}
		return nil, err
	}
	return &call, nil
}

func (s *Store) TransitionCall(ctx context.Context, call *models.Call, from []models.CallStatus) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ? AND status IN ?", call.ID, from).
		Updates(map[string]interface{}{
			"status":        call.Status,
			"start_time":    call.StartTime,
			"accepted_time": call.AcceptedTime,
			"end_time":      call.EndTime,
			"duration":      call.Duration,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// participantScope restricts to calls involving userID, and peerID when set
func participantScope(userID, peerID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if peerID == "" {
			return db.Where("caller_id = ? OR recipient_id = ?", userID, userID)
		}
		return db.Where("(caller_id = ? AND recipient_id = ?) OR (caller_id = ? AND recipient_id = ?)",
			userID, peerID, peerID, userID)
	}
}

func (s *Store) ListCalls(ctx context.Context, userID, peerID string) ([]models.Call, error) {
	var calls []models.Call
	err := s.db.WithContext(ctx).
		Scopes(participantScope(userID, peerID)).
		Order("start_time DESC").
		Find(&calls).Error
	return calls, err
}

func (s *Store) DeleteCall(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.Call{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return services.ErrCallNotFound
	}
	return nil
}

func (s *Store) DeleteCalls(ctx context.Context, userID, peerID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Scopes(participantScope(userID, peerID)).
		Delete(&models.Call{})
	return result.RowsAffected, result.Error
}

func (s *Store) CreateCallLogs(ctx context.Context, logs []models.CallLog) error {
	if len(logs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&logs).Error
}

func (s *Store) ListCallLogs(ctx context.Context, userID string, callType models.CallType, limit, offset int) ([]models.CallLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.CallLog{}).Where("user_id = ?", userID)
	if callType != "" {
		query = query.Where("call_type = ?", callType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.CallLog
	if err := query.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_online": online,
			"last_seen": lastSeen,
		}).Error
}

func (s *Store) ListStaleOnline(ctx context.Context, before time.Time) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("is_online = ? AND last_seen < ?", true, before).
		Find(&users).Error
	return users, err
}
