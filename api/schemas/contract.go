package schemas

import "time"

// -- Contract Schemas --

// ContractSource is the raw material of an audit: flattened Solidity source
// plus the explorer metadata that came with it.
type ContractSource struct {
	Address    string    `json:"address,omitempty"`
	Network    string    `json:"network,omitempty"`
	Name       string    `json:"name,omitempty"`
	Source     string    `json:"source"`
	Compiler   string    `json:"compiler,omitempty"`
	IsVerified bool      `json:"is_verified"`
	HoldsFunds bool      `json:"holds_funds"`
	FetchedAt  time.Time `json:"fetched_at,omitempty"`
}

// Meta derives the reasoning metadata from the source record.
func (c *ContractSource) Meta() ContractMeta {
	return ContractMeta{
		Name:       c.Name,
		Address:    c.Address,
		Network:    c.Network,
		IsVerified: c.IsVerified,
		HoldsFunds: c.HoldsFunds,
	}
}

// ContractDecl is a contract, interface, or library declaration.
type ContractDecl struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"` // "contract", "interface", or "library"
	Inherits []string `json:"inherits,omitempty"`
	Line     int      `json:"line"`
}

// FunctionInfo describes one function declaration.
type FunctionInfo struct {
	Name       string   `json:"name"`
	Visibility string   `json:"visibility"`
	Mutability string   `json:"mutability,omitempty"`
	Modifiers  []string `json:"modifiers,omitempty"`
	Line       int      `json:"line"`
}

// StateVariable describes one state variable declaration.
type StateVariable struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Visibility string `json:"visibility,omitempty"`
	Constant   bool   `json:"constant,omitempty"`
	Immutable  bool   `json:"immutable,omitempty"`
	Line       int    `json:"line"`
}

// EventInfo describes one event declaration.
type EventInfo struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// ModifierInfo describes one modifier declaration.
type ModifierInfo struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// ContractStructure is the lexical outline of a source file. It feeds
// report metadata and oracle facts; it is not an AST.
type ContractStructure struct {
	Pragma         string          `json:"pragma,omitempty"`
	Imports        []string        `json:"imports,omitempty"`
	Contracts      []ContractDecl  `json:"contracts,omitempty"`
	Functions      []FunctionInfo  `json:"functions,omitempty"`
	StateVariables []StateVariable `json:"state_variables,omitempty"`
	Events         []EventInfo     `json:"events,omitempty"`
	Modifiers      []ModifierInfo  `json:"modifiers,omitempty"`
}
