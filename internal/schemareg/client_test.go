package schemareg

import (
	"encoding/json"
	"testing"
)

func TestMetadataSchemaIsValidAvroRecord(t *testing.T) {
	var doc struct {
		Type   string `json:"type"`
		Name   string `json:"name"`
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(MetadataSchema(), &doc); err != nil {
		t.Fatalf("bundled schema is not valid json: %v", err)
	}
	if doc.Type != "record" || doc.Name != "TopicMetadata" {
		t.Fatalf("unexpected schema header: type=%q name=%q", doc.Type, doc.Name)
	}
	required := map[string]bool{"id": false, "subject": false, "schema_id": false, "created_at_utc": false}
	for _, f := range doc.Fields {
		if _, ok := required[f.Name]; ok {
			required[f.Name] = true
		}
	}
	for name, seen := range required {
		if !seen {
			t.Fatalf("bundled schema missing field %q", name)
		}
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected error without registry url")
	}
}
