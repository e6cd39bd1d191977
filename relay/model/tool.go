package model

// Tool is an OpenAI tool declaration in requests and a tool call in responses.
// Index is set only on streaming tool-call deltas.
type Tool struct {
	Id       string    `json:"id,omitempty"`
	Type     string    `json:"type,omitempty"`
	Function *Function `json:"function,omitempty"`
	Index    *int      `json:"index,omitempty"`
}

type Function struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Arguments   string `json:"arguments,omitempty"`
}
