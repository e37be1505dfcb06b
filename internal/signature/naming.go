package signature

import "strings"

// DefaultTableName returns the table name used when a model declares none.
func DefaultTableName(appLabel, modelName string) string {
	return appLabel + "_" + strings.ToLower(modelName)
}

// DefaultColumnName returns the column name used when a field declares no
// db_column.
func DefaultColumnName(fieldName string, t FieldType) string {
	if t == ForeignKey || t == OneToOneField {
		return fieldName + "_id"
	}
	return fieldName
}

// DefaultM2MTableName returns the join table name of a many-to-many field.
func DefaultM2MTableName(modelTable, fieldName string) string {
	return modelTable + "_" + fieldName
}

// ModelRef formats an "app_label.ModelName" reference.
func ModelRef(appLabel, modelName string) string {
	return appLabel + "." + modelName
}

// SplitModelRef splits an "app_label.ModelName" reference.
func SplitModelRef(ref string) (appLabel, modelName string, ok bool) {
	i := strings.LastIndexByte(ref, '.')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}
