package coerce

import "github.com/prompted365/golf/pkg/models"

// defaultPipelines holds the engine-wide pipeline for every canonical
// data type. Integrations override per (integration, data type) pair;
// an override replaces the default wholesale, it is never merged.
var defaultPipelines = map[models.DataType]models.CoercionPipeline{
	models.TypeBoolean: {
		{Name: models.OpLowercase},
		{Name: models.OpMapValues, Mapping: map[string][]string{
			"true":  {"true", "yes", "on", "1"},
			"false": {"false", "no", "off", "0"},
		}},
		{Name: models.OpDefault, Default: false},
	},
	models.TypeTags: {
		{Name: models.OpSplit, Separator: ",", TrimSpace: true, DropEmpty: true},
	},
	models.TypeEmailAddress: {
		{Name: models.OpTrim},
		{Name: models.OpValidateFormat, Format: "email"},
	},
	models.TypeNumber: {
		{Name: models.OpTrim},
		{Name: models.OpParseNumber},
	},
	models.TypeDatetime: {
		{Name: models.OpTrim},
		{Name: models.OpParseDatetime},
	},
	models.TypeString: {},
	models.TypeUser: {
		{Name: models.OpTrim},
	},
}

// DefaultPipeline returns the engine-wide pipeline for dt.
func DefaultPipeline(dt models.DataType) (models.CoercionPipeline, error) {
	pl, ok := defaultPipelines[dt]
	if !ok {
		return nil, &UnknownDataTypeError{DataType: dt}
	}
	return pl, nil
}

// Canonical reports whether dt has an engine-wide default pipeline.
func Canonical(dt models.DataType) bool {
	_, ok := defaultPipelines[dt]
	return ok
}
