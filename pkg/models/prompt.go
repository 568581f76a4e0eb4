package models

// PromptType identifies a prompt's rendering kind.
const (
	PromptTypeFreetext = "freetext"
	PromptTypeVToken   = "oc_vtoken_adaptor"
	PromptTypeElementum = "elementum"
)

// Prompt models the tagged variant Freetext | Reference | Variable<Prompt>
// described for task submission. Only the fields relevant to the variant in
// play are populated; the rest stay at their zero value and are omitted from
// JSON via omitempty, except label and sub_type, which are always emitted
// (null when unset).
//
// A reference prompt (oc_vtoken_adaptor / elementum) always carries the
// fixed metadata block (domain, parent, label, sort_index, status,
// polymorphi_values, sub_type) regardless of caller input —
// ApplyReferenceDefaults stamps it.
type Prompt struct {
	Type   string  `json:"type"`
	Value  string  `json:"value,omitempty"`
	Weight float64 `json:"weight,omitempty"`

	// Reference-type fields (oc_vtoken_adaptor, elementum).
	UUID   string `json:"uuid,omitempty"`
	Name   string `json:"name,omitempty"`
	ImgURL string `json:"img_url,omitempty"`

	Domain          string         `json:"domain,omitempty"`
	Parent          string         `json:"parent,omitempty"`
	Label           *string        `json:"label"`
	SortIndex       int            `json:"sort_index,omitempty"`
	Status          string         `json:"status,omitempty"`
	PolymorphiValues map[string]any `json:"polymorphi_values,omitempty"`
	SubType         *string        `json:"sub_type"`

	// Variable-prompt fields.
	IsVariable     bool     `json:"is_variable,omitempty"`
	VariableID     string   `json:"variable_id,omitempty"`
	VariableName   string   `json:"variable_name,omitempty"`
	VariableValues []Prompt `json:"variable_values,omitempty"`
}

// IsReference reports whether p is a reference-type prompt (oc_vtoken_adaptor
// or elementum), as opposed to freetext.
func (p Prompt) IsReference() bool {
	return p.Type == PromptTypeVToken || p.Type == PromptTypeElementum
}

// ApplyReferenceDefaults stamps the fixed metadata block that every
// reference-type constant prompt carries, per the submission contract.
// Freetext and variable prompts are left untouched.
func (p Prompt) ApplyReferenceDefaults() Prompt {
	if !p.IsReference() {
		return p
	}
	p.Domain = ""
	p.Parent = ""
	p.Label = nil
	p.SortIndex = 0
	p.Status = "IN_USE"
	p.PolymorphiValues = map[string]any{}
	p.SubType = nil
	if p.Value == "" {
		p.Value = p.UUID
	}
	return p
}

// IsEmpty reports whether the prompt's materialized value is empty or null,
// meaning it must be dropped from a subtask's final prompt list.
func (p Prompt) IsEmpty() bool {
	if p.IsReference() {
		return p.Value == "" && p.UUID == ""
	}
	return p.Value == ""
}
