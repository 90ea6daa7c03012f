package domain

import "time"

// DedupPolicy controls how a notebook treats re-uploads of identical content.
type DedupPolicy string

// Available dedup policies.
const (
	// DedupNone treats every upload as a new Document.
	DedupNone DedupPolicy = "none"

	// DedupContentHash reuses an existing Document with the same content hash.
	DedupContentHash DedupPolicy = "content_hash"
)

// IsValid returns true if the policy is recognised. Empty means DedupNone.
func (p DedupPolicy) IsValid() bool {
	switch p {
	case "", DedupNone, DedupContentHash:
		return true
	default:
		return false
	}
}

// Notebook is the owning collection for documents.
type Notebook struct {
	// ID is the unique identifier for the notebook.
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name" validate:"required,max=200"`

	// MetadataSchema lists the fields the Metadata Extractor should derive.
	MetadataSchema MetadataSchema `json:"metadata_schema"`

	// DedupPolicy decides whether identical uploads become new documents.
	DedupPolicy DedupPolicy `json:"dedup_policy,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldType is the declared type of a metadata field.
type FieldType string

// Supported metadata field types.
const (
	FieldString     FieldType = "string"
	FieldNumber     FieldType = "number"
	FieldInteger    FieldType = "integer"
	FieldBoolean    FieldType = "boolean"
	FieldDate       FieldType = "date"
	FieldStringList FieldType = "string_list"
)

// IsValid returns true if the field type is recognised.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldString, FieldNumber, FieldInteger, FieldBoolean, FieldDate, FieldStringList:
		return true
	default:
		return false
	}
}

// FieldSpec describes one named, typed metadata field.
type FieldSpec struct {
	// Name is the metadata key.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Type is the declared value type.
	Type FieldType `json:"type" yaml:"type" validate:"required"`

	// Required fields produce a warning when absent.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Enum restricts string values to an allowed set.
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`

	// Description is passed to the provider as extraction guidance.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// MetadataSchema is the ordered list of fields extracted for a notebook.
type MetadataSchema struct {
	Fields []FieldSpec `json:"fields" yaml:"fields" validate:"dive"`
}

// IsEmpty returns true when there is nothing to extract.
func (s MetadataSchema) IsEmpty() bool {
	return len(s.Fields) == 0
}

// Validate checks field names are unique and types are known.
func (s MetadataSchema) Validate() error {
	seen := make(map[string]bool, len(s.Fields))
	problems := make(map[string]string)
	for _, f := range s.Fields {
		if f.Name == "" {
			problems["name"] = "field name is required"
			continue
		}
		if seen[f.Name] {
			problems[f.Name] = "duplicate field"
		}
		seen[f.Name] = true
		if !f.Type.IsValid() {
			problems[f.Name] = "unknown type " + string(f.Type)
		}
		if len(f.Enum) > 0 && f.Type != FieldString && f.Type != FieldStringList {
			problems[f.Name] = "enum is only allowed on string fields"
		}
	}
	if len(problems) > 0 {
		return NewValidationError("invalid metadata schema", problems)
	}
	return nil
}
