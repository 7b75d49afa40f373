package encoder

import (
	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// StyleSheet records insertRule/deleteRule calls on sheets owned by
// serialized <style> and <link> elements.
type StyleSheet struct {
	env *Env
}

// NewStyleSheet creates the encoder.
func NewStyleSheet(env *Env) *StyleSheet { return &StyleSheet{env: env} }

// Handle encodes one CSSOM edit.
func (s *StyleSheet) Handle(ch dom.StyleSheetChange) {
	if ch.Sheet == nil {
		return
	}
	id, ok := s.env.target(ch.Sheet.Owner)
	if !ok {
		return
	}
	d := record.StyleSheetRuleData{ID: id}
	index := record.RuleIndex(append([]int(nil), ch.Path...))
	switch ch.Kind {
	case dom.RuleInserted:
		d.Adds = []record.StyleSheetAdd{{Rule: ch.Rule, Index: index}}
	case dom.RuleDeleted:
		d.Removes = []record.StyleSheetRemove{{Index: index}}
	}
	s.env.Emit(record.NewIncremental(s.env.now().UnixMilli(), d))
}
