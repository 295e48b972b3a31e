// Package datamodel holds the gorm models persisted by the repository layer.
package datamodel

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// ModelStatus is the lifecycle state of an authorization model version.
// Exactly one version per model ID is ACTIVE at any time.
type ModelStatus string

const (
	StatusDraft      ModelStatus = "STATUS_DRAFT"
	StatusActive     ModelStatus = "STATUS_ACTIVE"
	StatusSuperseded ModelStatus = "STATUS_SUPERSEDED"
)

func (v *ModelStatus) Scan(value any) error {
	s, ok := value.(string)
	if !ok {
		b, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("cannot scan %T into ModelStatus", value)
		}
		s = string(b)
	}
	*v = ModelStatus(s)
	return nil
}

func (v ModelStatus) Value() (driver.Value, error) {
	return string(v), nil
}

// AuthorizationModel is one immutable version of a compiled authorization
// model. The DSL source is retained verbatim for the editor; TypeDefinitions
// holds the compiled rewrite-rule tree. Rows are never updated after
// creation except for the Status transition on activation.
type AuthorizationModel struct {
	UID             uuid.UUID `gorm:"primary_key"`
	ModelID         string    `gorm:"index:idx_model_version,unique"`
	Version         int       `gorm:"index:idx_model_version,unique"`
	Status          ModelStatus
	DSLSource       string `gorm:"column:dsl_source"`
	TypeDefinitions datatypes.JSON
	CreateTime      time.Time `gorm:"autoCreateTime:nano"`
	UpdateTime      time.Time `gorm:"autoUpdateTime:nano"`
}

func (m *AuthorizationModel) BeforeCreate(db *gorm.DB) error {
	recordUUID, err := uuid.NewV4()
	if err != nil {
		return err
	}
	m.UID = recordUUID
	return nil
}

// TypeSystem decodes the compiled type definitions. The structural
// re-validation guards against corrupted rows: evaluation fails closed
// instead of running over a half-decoded model.
func (m *AuthorizationModel) TypeSystem() (*schema.TypeSystem, error) {
	var ts schema.TypeSystem
	if err := json.Unmarshal(m.TypeDefinitions, &ts); err != nil {
		return nil, err
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return &ts, nil
}

// SetTypeSystem encodes compiled type definitions into the JSON column.
func (m *AuthorizationModel) SetTypeSystem(ts *schema.TypeSystem) error {
	data, err := json.Marshal(ts)
	if err != nil {
		return err
	}
	m.TypeDefinitions = datatypes.JSON(data)
	return nil
}

// RelationshipTuple is one stored fact. UserRelation is empty for concrete
// users and names the relation for userset references (team:eng#member).
// The logical 4-tuple is unique; changes are delete + insert, never update.
type RelationshipTuple struct {
	UID          uuid.UUID `gorm:"primary_key"`
	ObjectType   string    `gorm:"index:idx_tuple,unique;index:idx_tuple_object"`
	ObjectID     string    `gorm:"index:idx_tuple,unique;index:idx_tuple_object"`
	Relation     string    `gorm:"index:idx_tuple,unique;index:idx_tuple_object"`
	UserType     string    `gorm:"index:idx_tuple,unique;index:idx_tuple_user"`
	UserID       string    `gorm:"index:idx_tuple,unique;index:idx_tuple_user"`
	UserRelation string    `gorm:"index:idx_tuple,unique;index:idx_tuple_user"`
	CreateTime   time.Time `gorm:"autoCreateTime:nano"`
}

func (t *RelationshipTuple) BeforeCreate(db *gorm.DB) error {
	recordUUID, err := uuid.NewV4()
	if err != nil {
		return err
	}
	t.UID = recordUUID
	return nil
}

// Key returns the logical tuple key.
func (t *RelationshipTuple) Key() schema.TupleKey {
	return schema.TupleKey{
		Object:   schema.ObjectRef{Type: t.ObjectType, ID: t.ObjectID},
		Relation: t.Relation,
		User:     schema.UserRef{Type: t.UserType, ID: t.UserID, Relation: t.UserRelation},
	}
}

// TupleFromKey builds a row from a logical tuple key.
func TupleFromKey(key schema.TupleKey) *RelationshipTuple {
	return &RelationshipTuple{
		ObjectType:   key.Object.Type,
		ObjectID:     key.Object.ID,
		Relation:     key.Relation,
		UserType:     key.User.Type,
		UserID:       key.User.ID,
		UserRelation: key.User.Relation,
	}
}
