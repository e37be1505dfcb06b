package signature

// RelationRef points at a relation field somewhere in a project.
type RelationRef struct {
	AppLabel  string
	ModelName string
	FieldName string
}

// RelationIndex maps "app_label.ModelName" to the relation fields that
// target it. The index is built on first use and must be invalidated by
// whoever mutates the project it was built from.
type RelationIndex struct {
	project *ProjectSignature
	refs    map[string][]RelationRef
}

// NewRelationIndex returns an unbuilt index over p.
func NewRelationIndex(p *ProjectSignature) *RelationIndex {
	return &RelationIndex{project: p}
}

// Invalidate drops the cached index; the next lookup rebuilds it.
func (r *RelationIndex) Invalidate() {
	r.refs = nil
}

// Referrers returns every relation field whose related_model is target.
func (r *RelationIndex) Referrers(target string) []RelationRef {
	if r.refs == nil {
		r.rebuild()
	}
	return append([]RelationRef(nil), r.refs[target]...)
}

func (r *RelationIndex) rebuild() {
	r.refs = map[string][]RelationRef{}
	for _, app := range r.project.apps {
		for _, model := range app.models {
			for _, f := range model.fields {
				target := f.RelatedModel()
				if target == "" {
					continue
				}
				r.refs[target] = append(r.refs[target], RelationRef{
					AppLabel:  app.AppID,
					ModelName: model.ModelName,
					FieldName: f.Name,
				})
			}
		}
	}
}
