package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"tutorchat/pkg/domain"
)

// GormStore implements AttachmentStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&AttachmentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Create inserts a new attachment record.
func (s *GormStore) Create(att domain.Attachment) error {
	model := toModel(att)
	if err := s.db.Create(&model).Error; err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// Get fetches one attachment by id.
func (s *GormStore) Get(id string) (domain.Attachment, error) {
	var model AttachmentModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Attachment{}, ErrNotFound
	}
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return fromModel(model), nil
}

// GetMany fetches attachments preserving the requested id order.
func (s *GormStore) GetMany(ids []string) ([]domain.Attachment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []AttachmentModel
	if err := s.db.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("get attachments: %w", err)
	}
	byID := make(map[string]AttachmentModel, len(models))
	for _, model := range models {
		byID[model.ID] = model
	}
	result := make([]domain.Attachment, 0, len(ids))
	for _, id := range ids {
		if model, ok := byID[id]; ok {
			result = append(result, fromModel(model))
		}
	}
	return result, nil
}

// SetTerminalState records the extraction outcome exactly once. A record that
// already left pending is not modified and applied=false is returned.
func (s *GormStore) SetTerminalState(id string, state domain.ExtractionState, text string, meta domain.ExtractionMeta) (bool, error) {
	if !state.Terminal() {
		return false, fmt.Errorf("set terminal state: %q is not terminal", state)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("encode extraction meta: %w", err)
	}
	res := s.db.Model(&AttachmentModel{}).
		Where("id = ? AND extraction_state = ?", id, string(domain.ExtractionPending)).
		Updates(map[string]any{
			"extraction_state": string(state),
			"extracted_text":   text,
			"extraction_meta":  datatypes.JSON(metaJSON),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("set terminal state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either missing or already terminal; distinguish for the caller.
		if _, err := s.Get(id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// LinkToMessage sets the message reference if it is still unset.
func (s *GormStore) LinkToMessage(id, messageID string) error {
	res := s.db.Model(&AttachmentModel{}).
		Where("id = ? AND message_id IS NULL", id).
		Updates(map[string]any{
			"message_id": messageID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("link attachment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(id); err != nil {
			return err
		}
	}
	return nil
}

// ListByMessage returns attachments linked to a message in link order.
func (s *GormStore) ListByMessage(messageID string) ([]domain.Attachment, error) {
	var models []AttachmentModel
	if err := s.db.Where("message_id = ?", messageID).Order("updated_at asc, id asc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	result := make([]domain.Attachment, 0, len(models))
	for _, model := range models {
		result = append(result, fromModel(model))
	}
	return result, nil
}

// ListByConversation returns all attachments of a conversation in upload order.
func (s *GormStore) ListByConversation(conversationID string) ([]domain.Attachment, error) {
	var models []AttachmentModel
	if err := s.db.Where("conversation_id = ?", conversationID).Order("created_at asc, id asc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list by conversation: %w", err)
	}
	result := make([]domain.Attachment, 0, len(models))
	for _, model := range models {
		result = append(result, fromModel(model))
	}
	return result, nil
}

// ListByOwner returns all attachments of an owner in upload order.
func (s *GormStore) ListByOwner(ownerID string) ([]domain.Attachment, error) {
	var models []AttachmentModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at asc, id asc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list by owner: %w", err)
	}
	result := make([]domain.Attachment, 0, len(models))
	for _, model := range models {
		result = append(result, fromModel(model))
	}
	return result, nil
}

// DeleteByConversation removes all records of a conversation.
func (s *GormStore) DeleteByConversation(conversationID string) error {
	if err := s.db.Where("conversation_id = ?", conversationID).Delete(&AttachmentModel{}).Error; err != nil {
		return fmt.Errorf("delete by conversation: %w", err)
	}
	return nil
}

// DeleteByOwner removes all records owned by a principal.
func (s *GormStore) DeleteByOwner(ownerID string) error {
	if err := s.db.Where("owner_id = ?", ownerID).Delete(&AttachmentModel{}).Error; err != nil {
		return fmt.Errorf("delete by owner: %w", err)
	}
	return nil
}

func toModel(att domain.Attachment) AttachmentModel {
	return AttachmentModel{
		ID:               att.ID,
		OwnerID:          att.OwnerID,
		ConversationID:   att.ConversationID,
		MessageID:        att.MessageID,
		FileName:         att.FileName,
		DeclaredMIMEType: att.DeclaredMIMEType,
		ByteSize:         att.ByteSize,
		StoragePath:      att.StoragePath,
		ExtractionState:  string(att.ExtractionState),
		ExtractedText:    att.ExtractedText,
		CreatedAt:        att.CreatedAt,
		UpdatedAt:        att.UpdatedAt,
	}
}

func fromModel(model AttachmentModel) domain.Attachment {
	return domain.Attachment{
		ID:               model.ID,
		OwnerID:          model.OwnerID,
		ConversationID:   model.ConversationID,
		MessageID:        model.MessageID,
		FileName:         model.FileName,
		DeclaredMIMEType: model.DeclaredMIMEType,
		ByteSize:         model.ByteSize,
		StoragePath:      model.StoragePath,
		ExtractionState:  domain.ExtractionState(model.ExtractionState),
		ExtractedText:    model.ExtractedText,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}
