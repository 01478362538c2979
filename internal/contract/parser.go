// Package contract extracts a lexical outline of Solidity source: pragma,
// imports, declarations, functions, state variables, events, and
// modifiers. It stays line-oriented on purpose; it is metadata for reports
// and oracle facts, not a compiler front end.
package contract

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
)

var (
	regexPragma       = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)
	regexImport       = regexp.MustCompile(`import\s+(?:\{[^}]*\}\s+from\s+)?["']([^"']+)["']`)
	regexContractDecl = regexp.MustCompile(`^\s*(?:abstract\s+)?(contract|interface|library)\s+(\w+)(?:\s+is\s+([\w\s,.]+))?`)
	regexFunction     = regexp.MustCompile(`function\s+(\w+)\s*\(`)
	regexEvent        = regexp.MustCompile(`^\s*event\s+(\w+)`)
	regexModifierDecl = regexp.MustCompile(`^\s*modifier\s+(\w+)`)
	regexStateVar     = regexp.MustCompile(`^\s*(uint\d*|int\d*|bool|address(?:\s+payable)?|bytes\d*|string|mapping\([^;]*\)|\w+\[\])\s+(?:(public|private|internal)\s+)?(?:(constant|immutable)\s+)?(\w+)\s*[;=]`)
	regexWord         = regexp.MustCompile(`[A-Za-z_]\w*`)
	regexParenGroup   = regexp.MustCompile(`\([^()]*\)`)
	regexReturnsKw    = regexp.MustCompile(`\breturns\b`)
)

// Parser scans Solidity source line by line. Block comments and line
// comments are skipped; brace depth separates contract members from
// function bodies and nested blocks.
type Parser struct {
	logger *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	return &Parser{
		logger: logger.Named("contract"),
	}
}

// Parse builds the lexical outline. It never fails: degenerate input
// yields an empty structure.
func (p *Parser) Parse(source string) schemas.ContractStructure {
	var structure schemas.ContractStructure

	if m := regexPragma.FindStringSubmatch(source); m != nil {
		structure.Pragma = strings.TrimSpace(m[1])
	}

	depth := 0
	inBlockComment := false
	for i, line := range strings.Split(source, "\n") {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if inBlockComment {
			if strings.Contains(trimmed, "*/") {
				inBlockComment = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "//") {
			continue
		}
		if strings.HasPrefix(trimmed, "/*") {
			if !strings.Contains(trimmed, "*/") {
				inBlockComment = true
			}
			continue
		}

		switch depth {
		case 0:
			if m := regexImport.FindStringSubmatch(line); m != nil {
				structure.Imports = append(structure.Imports, m[1])
			}
			if decl, ok := parseContractDecl(line, lineNo); ok {
				structure.Contracts = append(structure.Contracts, decl)
			}
		case 1:
			// Contract members. Deeper lines are function bodies or
			// struct fields and are not part of the outline.
			if fn, ok := parseFunction(line, lineNo); ok {
				structure.Functions = append(structure.Functions, fn)
			} else if m := regexEvent.FindStringSubmatch(line); m != nil {
				structure.Events = append(structure.Events, schemas.EventInfo{Name: m[1], Line: lineNo})
			} else if m := regexModifierDecl.FindStringSubmatch(line); m != nil {
				structure.Modifiers = append(structure.Modifiers, schemas.ModifierInfo{Name: m[1], Line: lineNo})
			} else if sv, ok := parseStateVariable(line, lineNo); ok {
				structure.StateVariables = append(structure.StateVariables, sv)
			}
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}

	p.logger.Debug("Parsed contract structure",
		zap.Int("contracts", len(structure.Contracts)),
		zap.Int("functions", len(structure.Functions)),
		zap.Int("stateVariables", len(structure.StateVariables)),
	)
	return structure
}

func parseContractDecl(line string, lineNo int) (schemas.ContractDecl, bool) {
	m := regexContractDecl.FindStringSubmatch(line)
	if m == nil {
		return schemas.ContractDecl{}, false
	}

	decl := schemas.ContractDecl{
		Name: m[2],
		Kind: m[1],
		Line: lineNo,
	}
	if m[3] != "" {
		for _, base := range strings.Split(m[3], ",") {
			base = strings.TrimSpace(base)
			if base != "" {
				decl.Inherits = append(decl.Inherits, base)
			}
		}
	}
	return decl, true
}

// parseFunction reads the declaration clause between the parameter list
// and the body opener. Visibility and mutability keywords are picked out;
// every other identifier is a modifier. Multi-line signatures only yield
// what sits on the first line.
func parseFunction(line string, lineNo int) (schemas.FunctionInfo, bool) {
	m := regexFunction.FindStringSubmatchIndex(line)
	if m == nil {
		return schemas.FunctionInfo{}, false
	}

	info := schemas.FunctionInfo{
		Name: line[m[2]:m[3]],
		Line: lineNo,
	}

	rest := line[m[1]:]
	closeIdx := strings.IndexByte(rest, ')')
	if closeIdx < 0 {
		return info, true
	}
	clause := rest[closeIdx+1:]
	if i := strings.IndexAny(clause, "{;"); i >= 0 {
		clause = clause[:i]
	}
	if loc := regexReturnsKw.FindStringIndex(clause); loc != nil {
		clause = clause[:loc[0]]
	}
	// Strip modifier arguments so onlyRole(ADMIN) reads as one token.
	clause = regexParenGroup.ReplaceAllString(clause, "")

	for _, token := range regexWord.FindAllString(clause, -1) {
		switch token {
		case "public", "external", "internal", "private":
			info.Visibility = token
		case "view", "pure", "payable":
			info.Mutability = token
		case "virtual", "override", "memory", "calldata", "storage":
			// declaration noise, not modifiers
		default:
			info.Modifiers = append(info.Modifiers, token)
		}
	}
	return info, true
}

func parseStateVariable(line string, lineNo int) (schemas.StateVariable, bool) {
	m := regexStateVar.FindStringSubmatch(line)
	if m == nil {
		return schemas.StateVariable{}, false
	}
	return schemas.StateVariable{
		Name:       m[4],
		Type:       m[1],
		Visibility: m[2],
		Constant:   m[3] == "constant",
		Immutable:  m[3] == "immutable",
		Line:       lineNo,
	}, true
}

// Facts renders the outline as knowledge-base atoms for the oracle:
// declarations, inheritance edges, and the pragma constraint.
func Facts(structure schemas.ContractStructure) []string {
	var atoms []string
	for _, decl := range structure.Contracts {
		atoms = append(atoms, fmt.Sprintf("(contract %s %s)", decl.Name, decl.Kind))
		for _, base := range decl.Inherits {
			atoms = append(atoms, fmt.Sprintf("(inherits %s %s)", decl.Name, base))
		}
	}
	if structure.Pragma != "" {
		atoms = append(atoms, fmt.Sprintf("(pragma %q)", structure.Pragma))
	}
	return atoms
}
