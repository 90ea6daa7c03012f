package domain

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// ParseReportTemplateYAML decodes a report template file. Unknown keys are
// rejected so typos in section fields surface immediately.
func ParseReportTemplateYAML(data []byte) (*ReportTemplate, error) {
	var tmpl ReportTemplate
	if err := decodeStrict(data, &tmpl); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "invalid template YAML", Err: err}
	}
	if err := ValidateStruct(&tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// MarshalReportTemplateYAML encodes a template in the same format
// ParseReportTemplateYAML reads.
func MarshalReportTemplateYAML(tmpl *ReportTemplate) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tmpl); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseMetadataSchemaYAML decodes a notebook metadata schema file.
func ParseMetadataSchemaYAML(data []byte) (MetadataSchema, error) {
	var schema MetadataSchema
	if err := decodeStrict(data, &schema); err != nil {
		return MetadataSchema{}, &Error{Kind: KindValidation, Message: "invalid schema YAML", Err: err}
	}
	if err := schema.Validate(); err != nil {
		return MetadataSchema{}, err
	}
	return schema, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty document")
		}
		return err
	}
	return nil
}
