package schema

// JSON Schema builders for tool inputs.

type Object = map[string]any

// ObjectSchema creates an object schema that rejects unknown properties.
func ObjectSchema(properties Object, required ...string) Object {
	out := Object{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func StringProperty(description string) Object {
	return Object{"type": "string", "description": description}
}

func StringEnumProperty(description string, values ...string) Object {
	return Object{"type": "string", "description": description, "enum": values}
}

func IntegerProperty(description string, min, max int) Object {
	return Object{"type": "integer", "description": description, "minimum": min, "maximum": max}
}

func BooleanProperty(description string) Object {
	return Object{"type": "boolean", "description": description}
}

// AmountProperty accepts a decimal string or a JSON number.
func AmountProperty(description string) Object {
	return Object{
		"description": description,
		"oneOf": []Object{
			{"type": "string", "pattern": `^[0-9]*\.?[0-9]*([eE][+-]?[0-9]+)?$`},
			{"type": "number", "minimum": 0},
		},
	}
}

// Required lists the required property names of an object schema.
func Required(s Object) []string {
	required, _ := s["required"].([]string)
	return required
}
