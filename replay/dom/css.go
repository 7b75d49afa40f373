package dom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/css/scanner"
)

// ErrIndexSize is returned for an out-of-range rule index.
var ErrIndexSize = errors.New("dom: rule index out of range")

// CSSRule is a rule of a style sheet. Grouping rules (@media, @supports,
// ...) hold child rules; every other rule is kept as its text.
type CSSRule struct {
	text    string
	prelude string
	group   bool
	rules   []*CSSRule
	parent  *CSSRule
	sheet   *StyleSheet
}

// IsGroup reports whether r is a grouping rule.
func (r *CSSRule) IsGroup() bool { return r.group }

// Rules returns the child rules of a grouping rule.
func (r *CSSRule) Rules() []*CSSRule { return r.rules }

// CSSText returns the normalised text of the rule.
func (r *CSSRule) CSSText() string {
	if !r.group {
		return r.text
	}
	var b strings.Builder
	b.WriteString(r.prelude)
	b.WriteString(" {")
	for _, c := range r.rules {
		b.WriteString(" ")
		b.WriteString(c.CSSText())
	}
	b.WriteString(" }")
	return b.String()
}

// InsertRule parses text and inserts it at index in a grouping rule.
func (r *CSSRule) InsertRule(text string, index int) (int, error) {
	if !r.group {
		return 0, fmt.Errorf("dom: insert rule into non-grouping rule %q", r.text)
	}
	return insertRule(&r.rules, r, r.sheet, text, index)
}

// DeleteRule removes the child rule at index of a grouping rule.
func (r *CSSRule) DeleteRule(index int) error {
	if !r.group {
		return fmt.Errorf("dom: delete rule from non-grouping rule %q", r.text)
	}
	return deleteRule(&r.rules, r, r.sheet, index)
}

// path returns the index path of r from the top of its sheet.
func (r *CSSRule) path() []int {
	var siblings []*CSSRule
	if r.parent != nil {
		siblings = r.parent.rules
	} else if r.sheet != nil {
		siblings = r.sheet.rules
	}
	idx := -1
	for i, s := range siblings {
		if s == r {
			idx = i
			break
		}
	}
	if r.parent == nil {
		return []int{idx}
	}
	return append(r.parent.path(), idx)
}

// StyleSheet is the CSSOM of a <style> element or a loaded
// <link rel="stylesheet">.
type StyleSheet struct {
	Owner *Node
	Href  string
	rules []*CSSRule
}

// NewStyleSheet parses text into a sheet owned by owner.
func NewStyleSheet(owner *Node, href, text string) *StyleSheet {
	s := &StyleSheet{Owner: owner, Href: href}
	s.rules = ParseRules(text)
	for _, r := range s.rules {
		adoptRule(r, nil, s)
	}
	return s
}

// Rules returns the top-level rules.
func (s *StyleSheet) Rules() []*CSSRule { return s.rules }

// CSSText joins the text of every rule.
func (s *StyleSheet) CSSText() string {
	parts := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		parts = append(parts, r.CSSText())
	}
	return strings.Join(parts, "")
}

// InsertRule parses text and inserts it at index.
func (s *StyleSheet) InsertRule(text string, index int) (int, error) {
	return insertRule(&s.rules, nil, s, text, index)
}

// DeleteRule removes the rule at index.
func (s *StyleSheet) DeleteRule(index int) error {
	return deleteRule(&s.rules, nil, s, index)
}

// RuleAt resolves an index path.
func (s *StyleSheet) RuleAt(path []int) (*CSSRule, bool) {
	list := s.rules
	var r *CSSRule
	for _, i := range path {
		if i < 0 || i >= len(list) {
			return nil, false
		}
		r = list[i]
		list = r.rules
	}
	return r, r != nil
}

// StyleSheetChangeKind tags a StyleSheetChange.
type StyleSheetChangeKind int

const (
	RuleInserted StyleSheetChangeKind = iota
	RuleDeleted
)

// StyleSheetChange describes one insertRule/deleteRule call. Path is the
// index path of the inserted or deleted rule from the top of the sheet.
type StyleSheetChange struct {
	Sheet *StyleSheet
	Kind  StyleSheetChangeKind
	Path  []int
	Rule  string
}

// OnStyleSheetChange registers fn for CSSOM edits on sheets owned by nodes
// of this document. The returned func unregisters it.
func (d *Document) OnStyleSheetChange(fn func(StyleSheetChange)) func() {
	id := d.listenerID()
	d.sheetListeners[id] = fn
	return func() { delete(d.sheetListeners, id) }
}

func notifySheet(s *StyleSheet, ch StyleSheetChange) {
	if s == nil || s.Owner == nil || s.Owner.doc == nil {
		return
	}
	d := s.Owner.doc
	for _, id := range sortedKeys(d.sheetListeners) {
		if fn, ok := d.sheetListeners[id]; ok {
			fn(ch)
		}
	}
}

func insertRule(list *[]*CSSRule, parent *CSSRule, s *StyleSheet, text string, index int) (int, error) {
	if index < 0 || index > len(*list) {
		return 0, fmt.Errorf("%w: insert at %d of %d", ErrIndexSize, index, len(*list))
	}
	parsed := ParseRules(text)
	if len(parsed) != 1 {
		return 0, fmt.Errorf("dom: insert rule: expected one rule, got %d in %q", len(parsed), text)
	}
	r := parsed[0]
	adoptRule(r, parent, s)
	*list = append(*list, nil)
	copy((*list)[index+1:], (*list)[index:])
	(*list)[index] = r
	notifySheet(s, StyleSheetChange{Sheet: s, Kind: RuleInserted, Path: r.path(), Rule: r.CSSText()})
	return index, nil
}

func deleteRule(list *[]*CSSRule, parent *CSSRule, s *StyleSheet, index int) error {
	if index < 0 || index >= len(*list) {
		return fmt.Errorf("%w: delete %d of %d", ErrIndexSize, index, len(*list))
	}
	path := (*list)[index].path()
	*list = append((*list)[:index], (*list)[index+1:]...)
	notifySheet(s, StyleSheetChange{Sheet: s, Kind: RuleDeleted, Path: path})
	return nil
}

func adoptRule(r, parent *CSSRule, s *StyleSheet) {
	r.parent = parent
	r.sheet = s
	for _, c := range r.rules {
		adoptRule(c, r, s)
	}
}

// --- parsing ---

var groupingAtRules = map[string]bool{
	"@media":          true,
	"@supports":       true,
	"@document":       true,
	"@-moz-document":  true,
	"@layer":          true,
	"@container":      true,
	"@scope":          true,
	"@starting-style": true,
}

// ParseRules splits style sheet text into rules. Grouping at-rules are
// parsed recursively; anything the tokenizer cannot read ends the sheet.
func ParseRules(text string) []*CSSRule {
	p := &cssParser{}
	s := scanner.New(text)
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			break
		}
		p.toks = append(p.toks, tok)
	}
	return p.rules(false)
}

type cssParser struct {
	toks []*scanner.Token
	pos  int
}

func isChar(t *scanner.Token, c string) bool {
	return t.Type == scanner.TokenChar && t.Value == c
}

func (p *cssParser) rules(nested bool) []*CSSRule {
	var out []*CSSRule
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		switch {
		case t.Type == scanner.TokenS, t.Type == scanner.TokenComment,
			t.Type == scanner.TokenCDO, t.Type == scanner.TokenCDC:
			p.pos++
			continue
		case isChar(t, "}"):
			p.pos++
			if nested {
				return out
			}
			continue
		}
		if r := p.rule(); r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (p *cssParser) rule() *CSSRule {
	first := p.toks[p.pos]
	group := first.Type == scanner.TokenAtKeyword && groupingAtRules[strings.ToLower(first.Value)]
	var prelude strings.Builder
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		switch {
		case isChar(t, ";"):
			p.pos++
			return &CSSRule{text: collapse(prelude.String()) + ";"}
		case isChar(t, "}"):
			return nil
		case isChar(t, "{"):
			p.pos++
			head := collapse(prelude.String())
			if group {
				r := &CSSRule{group: true, prelude: head}
				r.rules = p.rules(true)
				return r
			}
			body := collapse(p.block())
			if body == "" {
				return &CSSRule{text: head + " { }"}
			}
			return &CSSRule{text: head + " { " + body + " }"}
		}
		if t.Type != scanner.TokenComment {
			prelude.WriteString(t.Value)
		}
		p.pos++
	}
	return nil
}

// block returns the raw text up to the matching close brace, consuming it.
func (p *cssParser) block() string {
	var b strings.Builder
	depth := 1
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		p.pos++
		switch {
		case isChar(t, "{"):
			depth++
		case isChar(t, "}"):
			depth--
			if depth == 0 {
				return b.String()
			}
		case t.Type == scanner.TokenComment:
			continue
		}
		b.WriteString(t.Value)
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
