package signature

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type projectDoc struct {
	Version int      `json:"version" yaml:"version"`
	Apps    []appDoc `json:"apps" yaml:"apps"`
}

type appDoc struct {
	AppID             string     `json:"app_id" yaml:"app_id"`
	UpgradeMethod     string     `json:"upgrade_method,omitempty" yaml:"upgrade_method,omitempty"`
	AppliedMigrations []string   `json:"applied_migrations,omitempty" yaml:"applied_migrations,omitempty"`
	Models            []modelDoc `json:"models" yaml:"models"`
}

type modelDoc struct {
	ModelName             string          `json:"model_name" yaml:"model_name"`
	TableName             string          `json:"db_table,omitempty" yaml:"db_table,omitempty"`
	PKColumn              string          `json:"pk_column,omitempty" yaml:"pk_column,omitempty"`
	UniqueTogether        [][]string      `json:"unique_together,omitempty" yaml:"unique_together,omitempty"`
	UniqueTogetherApplied bool            `json:"unique_together_applied,omitempty" yaml:"unique_together_applied,omitempty"`
	IndexTogether         [][]string      `json:"index_together,omitempty" yaml:"index_together,omitempty"`
	Indexes               []indexDoc      `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Constraints           []constraintDoc `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	DBTableComment        string          `json:"db_table_comment,omitempty" yaml:"db_table_comment,omitempty"`
	Fields                []fieldDoc      `json:"fields" yaml:"fields"`
}

type fieldDoc struct {
	Name  string         `json:"name" yaml:"name"`
	Type  string         `json:"type" yaml:"type"`
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

type indexDoc struct {
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Fields []string       `json:"fields" yaml:"fields"`
	Attrs  map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

type constraintDoc struct {
	Name  string         `json:"name" yaml:"name"`
	Type  string         `json:"type" yaml:"type"`
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Serialize encodes the project as versioned JSON. Output is deterministic.
func (p *ProjectSignature) Serialize() ([]byte, error) {
	data, err := json.Marshal(p.toDoc())
	if err != nil {
		return nil, fmt.Errorf("signature serialize: %w", err)
	}
	return data, nil
}

// Deserialize decodes JSON produced by Serialize.
func Deserialize(data []byte) (*ProjectSignature, error) {
	var doc projectDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("signature deserialize: %w", err)
	}
	return fromDoc(doc)
}

// YAML renders the project in the same shape as the JSON form.
func (p *ProjectSignature) YAML() ([]byte, error) {
	data, err := yaml.Marshal(p.toDoc())
	if err != nil {
		return nil, fmt.Errorf("signature yaml: %w", err)
	}
	return data, nil
}

// ParseYAML decodes a declared project signature. The version key may be
// omitted, in which case the current version is assumed.
func ParseYAML(data []byte) (*ProjectSignature, error) {
	var doc projectDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("signature parse yaml: %w", err)
	}
	if doc.Version == 0 {
		doc.Version = Version
	}
	return fromDoc(doc)
}

// LoadFile reads a declared project signature from a YAML (or JSON, which
// YAML accepts) file.
func LoadFile(path string) (*ProjectSignature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signature load: %w", err)
	}
	return ParseYAML(data)
}

func (p *ProjectSignature) toDoc() projectDoc {
	doc := projectDoc{Version: Version, Apps: []appDoc{}}
	for _, a := range p.apps {
		ad := appDoc{
			AppID:             a.AppID,
			UpgradeMethod:     a.UpgradeMethod,
			AppliedMigrations: a.AppliedMigrations,
			Models:            []modelDoc{},
		}
		for _, m := range a.models {
			md := modelDoc{
				ModelName:             m.ModelName,
				TableName:             m.TableName,
				PKColumn:              m.PKColumn,
				UniqueTogether:        m.UniqueTogether,
				UniqueTogetherApplied: m.UniqueTogetherApplied,
				IndexTogether:         m.IndexTogether,
				DBTableComment:        m.DBTableComment,
				Fields:                []fieldDoc{},
			}
			for _, i := range m.Indexes {
				md.Indexes = append(md.Indexes, indexDoc{Name: i.Name, Fields: i.Fields, Attrs: i.Attrs})
			}
			for _, c := range m.Constraints {
				md.Constraints = append(md.Constraints, constraintDoc{Name: c.Name, Type: c.Type, Attrs: c.Attrs})
			}
			for _, f := range m.fields {
				fd := fieldDoc{Name: f.Name, Type: string(f.Type)}
				if len(f.Attrs) > 0 {
					fd.Attrs = f.Attrs
				}
				md.Fields = append(md.Fields, fd)
			}
			ad.Models = append(ad.Models, md)
		}
		doc.Apps = append(doc.Apps, ad)
	}
	return doc
}

func fromDoc(doc projectDoc) (*ProjectSignature, error) {
	if doc.Version != Version {
		return nil, fmt.Errorf("signature: unsupported version %d", doc.Version)
	}
	p := NewProject()
	for _, ad := range doc.Apps {
		app := NewApp(ad.AppID)
		app.UpgradeMethod = ad.UpgradeMethod
		app.AppliedMigrations = ad.AppliedMigrations
		for _, md := range ad.Models {
			m := NewModel(md.ModelName, md.TableName)
			m.UniqueTogether = md.UniqueTogether
			m.UniqueTogetherApplied = md.UniqueTogetherApplied
			m.IndexTogether = md.IndexTogether
			m.DBTableComment = md.DBTableComment
			for _, id := range md.Indexes {
				m.Indexes = append(m.Indexes, IndexSignature{Name: id.Name, Fields: id.Fields, Attrs: normMap(id.Attrs)})
			}
			for _, cd := range md.Constraints {
				m.Constraints = append(m.Constraints, ConstraintSignature{Name: cd.Name, Type: cd.Type, Attrs: normMap(cd.Attrs)})
			}
			for _, fd := range md.Fields {
				t, err := ParseFieldType(fd.Type)
				if err != nil {
					return nil, fmt.Errorf("signature: %s.%s.%s: %w", ad.AppID, md.ModelName, fd.Name, err)
				}
				f, err := NewField(fd.Name, t, fd.Attrs)
				if err != nil {
					return nil, fmt.Errorf("signature: %s.%s: %w", ad.AppID, md.ModelName, err)
				}
				if err := m.AddField(f); err != nil {
					return nil, fmt.Errorf("signature: %s: %w", ad.AppID, err)
				}
			}
			if md.PKColumn != "" {
				m.PKColumn = md.PKColumn
			}
			if err := app.AddModel(m); err != nil {
				return nil, fmt.Errorf("signature: %w", err)
			}
		}
		if err := p.AddApp(app); err != nil {
			return nil, fmt.Errorf("signature: %w", err)
		}
	}
	return p, nil
}
