package domain

// Schema names the columns read from the inputs and written to the exports.
type Schema struct {
	BuildingType string
	DamageType   string
	UnitCode     string
	Area         string
	UnitPrice    string
	LossRatio    string

	// UnitCodeAlt is used for the units layer when UnitCode is absent.
	UnitCodeAlt string

	// LossColumn heads the loss column of the exported table.
	LossColumn string

	// Damage-type values highlighted on the building layer.
	Collapsed          string
	PartiallyCollapsed string
}

// DefaultSchema returns the column names used by the standard assessment templates.
func DefaultSchema() Schema {
	return Schema{
		BuildingType:       "建筑类",
		DamageType:         "破坏类",
		UnitCode:           "评估区",
		Area:               "Area",
		UnitPrice:          "单价",
		LossRatio:          "损失比",
		UnitCodeAlt:        "TOWNNAME",
		LossColumn:         "OneLoss",
		Collapsed:          "倒塌",
		PartiallyCollapsed: "部分倒塌",
	}
}

// BuildingColumns lists the attribute columns every building record must carry.
func (s Schema) BuildingColumns() []string {
	return []string{s.BuildingType, s.DamageType, s.UnitCode, s.Area}
}

// DamageColor returns the marker color for a damage-type code.
func (s Schema) DamageColor(damage string) string {
	switch damage {
	case s.Collapsed:
		return "red"
	case s.PartiallyCollapsed:
		return "orange"
	default:
		return "green"
	}
}
