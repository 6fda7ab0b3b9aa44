package network

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Clause is a set of genes which all have to be present for the
// enzyme (complex) to be active.
type Clause []string

// GPR is a gene-protein-reaction rule in disjunctive normal form. Each
// clause is an isozyme; clauses are unique and sorted.
type GPR []Clause

// ErrGPRSyntax is returned when a rule cannot be parsed.
var ErrGPRSyntax = errors.New("invalid gene-reaction rule")

// Empty returns true if reaction has no gene association.
func (g GPR) Empty() bool {
	return len(g) == 0
}

// Genes returns sorted list of all genes mentioned by the rule.
func (g GPR) Genes() []string {
	set := make(map[string]bool)
	for _, cl := range g {
		for _, gene := range cl {
			set[gene] = true
		}
	}
	genes := make([]string, 0, len(set))
	for gene := range set {
		genes = append(genes, gene)
	}
	sort.Strings(genes)
	return genes
}

// String formats the rule back to the text representation.
func (g GPR) String() string {
	parts := make([]string, len(g))
	for i, cl := range g {
		s := strings.Join(cl, " and ")
		if len(g) > 1 && len(cl) > 1 {
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, " or ")
}

func (c Clause) key() string {
	return strings.Join(c, "\x00")
}

// ParseGPR parses a gene-reaction rule like "(g1 and g2) or g3".
// Nested expressions are distributed into disjunctive normal form and
// duplicate clauses collapse. Empty rule results in an empty GPR.
func ParseGPR(rule string) (GPR, error) {
	p := &gprParser{tokens: tokenize(rule)}
	if len(p.tokens) == 0 {
		return nil, nil
	}
	dnf, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("%w: unexpected %q in %q", ErrGPRSyntax, p.tokens[p.pos], rule)
	}
	return normalize(dnf), nil
}

// tokenize splits rule into identifiers, parentheses and operators.
func tokenize(rule string) (tokens []string) {
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range rule {
		switch {
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return
}

type gprParser struct {
	tokens []string
	pos    int
}

func (p *gprParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func isOr(tok string) bool {
	return strings.EqualFold(tok, "or") || tok == "||"
}

func isAnd(tok string) bool {
	return strings.EqualFold(tok, "and") || tok == "&&"
}

// expr := term ('or' term)*
func (p *gprParser) expr() ([][]string, error) {
	res, err := p.term()
	if err != nil {
		return nil, err
	}
	for isOr(p.peek()) {
		p.pos++
		t, err := p.term()
		if err != nil {
			return nil, err
		}
		res = append(res, t...)
	}
	return res, nil
}

// term := factor ('and' factor)*
func (p *gprParser) term() ([][]string, error) {
	res, err := p.factor()
	if err != nil {
		return nil, err
	}
	for isAnd(p.peek()) {
		p.pos++
		f, err := p.factor()
		if err != nil {
			return nil, err
		}
		prod := make([][]string, 0, len(res)*len(f))
		for _, a := range res {
			for _, b := range f {
				cl := make([]string, 0, len(a)+len(b))
				cl = append(cl, a...)
				cl = append(cl, b...)
				prod = append(prod, cl)
			}
		}
		res = prod
	}
	return res, nil
}

// factor := gene | '(' expr ')'
func (p *gprParser) factor() ([][]string, error) {
	tok := p.peek()
	switch {
	case tok == "":
		return nil, fmt.Errorf("%w: unexpected end of rule", ErrGPRSyntax)
	case tok == "(":
		p.pos++
		res, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrGPRSyntax)
		}
		p.pos++
		return res, nil
	case tok == ")" || isAnd(tok) || isOr(tok):
		return nil, fmt.Errorf("%w: unexpected %q", ErrGPRSyntax, tok)
	}
	p.pos++
	return [][]string{{tok}}, nil
}

// normalize sorts genes inside clauses, removes repeated genes and
// collapses identical clauses.
func normalize(dnf [][]string) GPR {
	seen := make(map[string]bool)
	g := make(GPR, 0, len(dnf))
	for _, genes := range dnf {
		set := make(map[string]bool, len(genes))
		cl := make(Clause, 0, len(genes))
		for _, gene := range genes {
			if !set[gene] {
				set[gene] = true
				cl = append(cl, gene)
			}
		}
		sort.Strings(cl)
		k := cl.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		g = append(g, cl)
	}
	sort.Slice(g, func(i, j int) bool {
		return g[i].key() < g[j].key()
	})
	return g
}
