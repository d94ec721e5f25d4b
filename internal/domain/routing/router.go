// Package routing decides which emitter and document type a closed sale goes to.
// Rules are CEL expressions evaluated in order; the first match wins.
package routing

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/catalog"
	"hotelfiscal/internal/domain/fiscal"
)

// Rule maps a CEL condition to a document type and optionally a fixed emitter.
//
// Available variables:
//
//	origin      string        "restaurant", "reception", ...
//	items       list(string)  normalized item names (lowercase, no accents)
//	has_service bool          any item flagged is_service
//	total       double        sale total
type Rule struct {
	Name       string         `json:"name"`
	When       string         `json:"when"`
	FiscalType fiscal.DocType `json:"fiscal_type"`
	CNPJ       string         `json:"cnpj,omitempty"`
}

// Config is the routing section of the integration settings file.
type Config struct {
	DefaultNFCeCNPJ string            `json:"default_nfce_cnpj"`
	DefaultNFSeCNPJ string            `json:"default_nfse_cnpj"`
	OriginCNPJ      map[string]string `json:"origin_cnpj,omitempty"`
	Rules           []Rule            `json:"rules,omitempty"`
}

// DefaultRules route lodging to NFS-e.
var DefaultRules = []Rule{
	{Name: "daily-rates", When: `origin == "daily_rates"`, FiscalType: fiscal.DocNFSe},
	{Name: "lodging-items", When: `items.exists(n, n.contains("diaria") || n.contains("hospedagem"))`, FiscalType: fiscal.DocNFSe},
	{Name: "reception-services", When: `origin == "reception" && has_service`, FiscalType: fiscal.DocNFSe},
}

// Decision is the routing result.
type Decision struct {
	FiscalType fiscal.DocType
	CNPJ       string
	Rule       string
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Router evaluates compiled rules.
type Router struct {
	cfg   Config
	rules []compiledRule
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("origin", cel.StringType),
		cel.Variable("items", cel.ListType(cel.StringType)),
		cel.Variable("has_service", cel.BoolType),
		cel.Variable("total", cel.DoubleType),
	)
}

// New compiles cfg. When cfg has no rules, DefaultRules are used.
func New(cfg Config) (*Router, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules
	}

	r := &Router{cfg: cfg}
	for _, rule := range rules {
		if rule.FiscalType != fiscal.DocNFCe && rule.FiscalType != fiscal.DocNFSe {
			return nil, apperror.NewValidation("routing rule has unknown fiscal_type").WithDetail("rule", rule.Name)
		}
		ast, iss := env.Compile(rule.When)
		if iss.Err() != nil {
			return nil, apperror.NewValidation("routing rule does not compile").
				WithDetail("rule", rule.Name).
				WithCause(iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, apperror.NewValidation("routing rule must return bool").WithDetail("rule", rule.Name)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", rule.Name, err)
		}
		r.rules = append(r.rules, compiledRule{Rule: rule, prg: prg})
	}
	return r, nil
}

// Route picks the document type and emitter for a sale.
func (r *Router) Route(origin fiscal.Origin, items []fiscal.LineItem, total float64) (Decision, error) {
	names := make([]string, 0, len(items))
	hasService := false
	for _, it := range items {
		names = append(names, catalog.NormalizeName(it.Name))
		hasService = hasService || it.IsService
	}
	vars := map[string]any{
		"origin":      string(origin),
		"items":       names,
		"has_service": hasService,
		"total":       total,
	}

	d := Decision{FiscalType: fiscal.DocNFCe}
	for _, rule := range r.rules {
		out, _, err := rule.prg.Eval(vars)
		if err != nil {
			return Decision{}, fmt.Errorf("evaluate rule %s: %w", rule.Name, err)
		}
		if matched, ok := out.Value().(bool); ok && matched {
			d = Decision{FiscalType: rule.FiscalType, CNPJ: rule.CNPJ, Rule: rule.Name}
			break
		}
	}
	if d.CNPJ == "" {
		d.CNPJ = r.Emitter(origin, d.FiscalType)
	}
	return d, nil
}

// Emitter returns the configured emitter for origin and document type:
// the origin override first, then the per-type default.
func (r *Router) Emitter(origin fiscal.Origin, docType fiscal.DocType) string {
	if docType == fiscal.DocNFSe && r.cfg.DefaultNFSeCNPJ != "" {
		return fiscal.Digits(r.cfg.DefaultNFSeCNPJ)
	}
	if c := r.cfg.OriginCNPJ[string(origin)]; c != "" {
		return fiscal.Digits(c)
	}
	return fiscal.Digits(r.cfg.DefaultNFCeCNPJ)
}
