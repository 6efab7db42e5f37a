package model

import "fmt"

// Registry of supported Duux Gen2 appliance models. Capability order within
// a descriptor is the order transition events fire in.
var descriptors = []Descriptor{
	{
		Model:       "whisper-flex",
		DisplayName: "Whisper Flex",
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "fan_speed", Field: "speed", Param: "speed", Kind: Number},
			{ID: "whisper_mode", Field: "mode", Param: "mode", Kind: Enum, Enum: []EnumValue{
				{0, "normal"}, {1, "nature"}, {2, "night"},
			}},
			{ID: "horizontal_oscillation", Field: "swing", Param: "swing", Kind: Bool, Triggers: true},
			{ID: "vertical_oscillation", Param: "tilt", Kind: Bool},
		},
	},
	{
		Model:       "bright",
		DisplayName: "Bright",
		VendorTypes: []string{"22"},
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "fan_speed_bright", Field: "speed", Param: "speed", Kind: Enum, Enum: []EnumValue{
				{0, "auto"}, {1, "low"}, {2, "medium"}, {3, "high"}, {4, "night"},
			}},
			{ID: "ionizer", Field: "ion", Param: "ion", Kind: Bool, Triggers: true},
			{ID: "measure_pm25", Field: "ppm", Kind: Number},
		},
	},
	{
		Model:       "bora",
		DisplayName: "Bora",
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "measure_humidity", Field: "hum", Kind: Number},
			{ID: "target_humidity", Field: "sp", Param: "sp", Kind: Scaled, Scale: 100},
			{ID: "mode", Field: "mode", Param: "mode", Kind: Enum, Enum: []EnumValue{
				{0, "auto"}, {1, "continuous"},
			}},
			{ID: "fanmode", Field: "fan", Param: "fan", Kind: Enum, Enum: []EnumValue{
				{0, "two"}, {1, "one"},
			}},
			{ID: "child_lock", Field: "lock", Param: "lock", Kind: Bool, Triggers: true},
			{ID: "laundry_mode", Field: "laundr", Param: "laundr", Kind: Bool, Triggers: true},
			{ID: "sleep_mode", Param: "sleep", Kind: Bool},
		},
	},
	{
		Model:       "beam",
		DisplayName: "Beam",
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "measure_temperature", Field: "temp", Kind: Number},
			{ID: "measure_humidity", Field: "hum", Kind: Number},
			{ID: "target_humidity", Field: "sp", Param: "sp", Kind: Scaled, Scale: 100},
			beamFanSpeed(),
			{ID: "night_mode", Field: "night", Param: "night", Kind: Bool, Triggers: true},
			{ID: "led", Field: "led", Param: "led", Kind: Bool, Triggers: true},
		},
	},
	{
		Model:       "beam-mini",
		DisplayName: "Beam Mini",
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "measure_temperature", Field: "temp", Kind: Number},
			{ID: "measure_humidity", Field: "hum", Kind: Number},
			{ID: "target_humidity", Field: "sp", Param: "sp", Kind: Scaled, Scale: 100},
			beamFanSpeed(),
		},
	},
	{
		Model:       "edge",
		DisplayName: "Edge",
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "measure_temperature", Field: "temp", Kind: Number},
			{ID: "target_temperature", Field: "sp", Param: "sp", Kind: Number},
			{ID: "child_lock", Field: "lock", Param: "lock", Kind: Bool, Triggers: true},
			{ID: "eco_mode", Field: "eco", Param: "eco", Kind: Bool, Triggers: true},
			{ID: "night_mode", Field: "night", Param: "night", Kind: Bool, Triggers: true},
		},
	},
	{
		Model:       "edge-oil",
		DisplayName: "Edge Oil",
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "measure_temperature", Field: "temp", Kind: Number},
			{ID: "target_temperature", Field: "sp", Param: "sp", Kind: Number},
			{ID: "edge_oil_mode", Field: "mode", Param: "heatin", Kind: Enum, Enum: []EnumValue{
				{1, "low"}, {2, "high"}, {3, "boost"},
			}},
			{ID: "child_lock", Field: "lock", Param: "lock", Kind: Bool, Triggers: true},
			{ID: "night_mode", Field: "night", Param: "night", Kind: Bool, Triggers: true},
		},
	},
	{
		Model:       "threesixty",
		DisplayName: "Threesixty",
		VendorTypes: []string{"21", "50"},
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "measure_temperature", Field: "temp", Kind: Number},
			{ID: "target_temperature", Field: "sp", Param: "sp", Kind: Number},
			{ID: "heatmode", Field: "mode", Param: "mode", Kind: Enum, Enum: []EnumValue{
				{0, "three"}, {1, "two"}, {2, "one"},
			}},
		},
	},
	{
		Model:       "north9k",
		DisplayName: "North 9k",
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "measure_temperature", Field: "temp", Kind: Number},
			{ID: "target_temperature", Field: "sp", Param: "sp", Kind: Number},
			{ID: "north9k_mode", Field: "mode", Param: "mode", Kind: Enum, Enum: []EnumValue{
				{1, "cool"}, {2, "heat"}, {3, "dehumidify"}, {4, "ventilate"},
			}},
			{ID: "heatmode", Field: "fan", Param: "fan", Kind: Enum, Enum: []EnumValue{
				{1, "one"}, {2, "two"}, {3, "three"},
			}},
			{ID: "louver", Field: "tilt", Param: "tilt", Kind: Bool, Triggers: true},
			{ID: "night_mode", Field: "night", Param: "night", Kind: Bool, Triggers: true},
		},
	},
	{
		Model:       "north12k18k",
		DisplayName: "North 12k/18k",
		Capabilities: []Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: Bool},
			{ID: "measure_temperature", Field: "temp", Kind: Number},
			{ID: "target_temperature", Field: "sp", Param: "sp", Kind: Number},
			{ID: "north_mode", Field: "mode", Param: "mode", Kind: Enum, Enum: []EnumValue{
				{1, "cool"}, {3, "dehumidify"}, {4, "ventilate"},
			}},
			{ID: "heatmode", Field: "fan", Param: "fan", Kind: Enum, Enum: []EnumValue{
				{1, "one"}, {2, "two"}, {3, "three"},
			}},
			{ID: "louver", Field: "tilt", Param: "tilt", Kind: Bool, Triggers: true},
			{ID: "night_mode", Field: "night", Param: "night", Kind: Bool, Triggers: true},
		},
	},
}

// beamFanSpeed is the combined mode+speed capability of the Beam family.
// "auto" means mode 1; the fixed speeds mean mode 0 plus a speed ordinal.
func beamFanSpeed() Capability {
	return Capability{
		ID:    "fan_speed_neo",
		Field: "mode",
		Decode: func(st Status) (any, bool, error) {
			mode, okMode := st["mode"]
			speed, okSpeed := st["speed"]
			if !okMode || !okSpeed {
				return nil, false, nil
			}
			if mode == 1 {
				return "auto", true, nil
			}
			switch speed {
			case 0:
				return "low", true, nil
			case 1:
				return "medium", true, nil
			case 2:
				return "high", true, nil
			}
			return nil, false, fmt.Errorf("no fan speed for mode=%v speed=%v", mode, speed)
		},
		Encode: func(v any) ([]string, error) {
			label, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("capability %q wants a label, got %T", "fan_speed_neo", v)
			}
			switch label {
			case "auto":
				return []string{command("mode", "1")}, nil
			case "low":
				return []string{command("mode", "0"), command("speed", "0")}, nil
			case "medium":
				return []string{command("mode", "0"), command("speed", "1")}, nil
			case "high":
				return []string{command("mode", "0"), command("speed", "2")}, nil
			}
			return nil, fmt.Errorf("capability %q: unknown value %q", "fan_speed_neo", label)
		},
	}
}

// ByModel returns the descriptor for a model name.
func ByModel(name string) (*Descriptor, bool) {
	for i := range descriptors {
		if descriptors[i].Model == name {
			return &descriptors[i], true
		}
	}
	return nil, false
}

// ByVendorType returns the descriptor matching a cloud "type" code.
func ByVendorType(code string) (*Descriptor, bool) {
	for i := range descriptors {
		for _, t := range descriptors[i].VendorTypes {
			if t == code {
				return &descriptors[i], true
			}
		}
	}
	return nil, false
}

// Models lists all supported model names.
func Models() []string {
	names := make([]string, 0, len(descriptors))
	for i := range descriptors {
		names = append(names, descriptors[i].Model)
	}
	return names
}
