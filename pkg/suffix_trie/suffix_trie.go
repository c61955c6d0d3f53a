// Package suffix_trie holds the Public Suffix List rules as a reverse-label
// trie and implements the longest-match walk over it.
package suffix_trie

import (
	"slices"
	"strings"

	"github.com/Motmedel/tldextract_go/pkg/netloc"
)

type RuleKind int

const (
	RuleKindPlain RuleKind = iota
	// RuleKindWildcard covers "*.x": any single label directly under x.
	RuleKindWildcard
	// RuleKindException covers "!y.x": y.x carved out of a covering "*.x".
	RuleKindException
)

// Rule is a suffix list rule normalized at build time; the "*." and "!"
// markers are folded into Kind so walks never re-parse sigils. Labels are in
// normal domain order, lowercased and punycode-decoded.
type Rule struct {
	Kind    RuleKind
	Labels  []string
	Private bool
}

func ParseRule(text string, private bool) Rule {
	kind := RuleKindPlain
	if after, found := strings.CutPrefix(text, "!"); found {
		kind = RuleKindException
		text = after
	} else if after, found := strings.CutPrefix(text, "*."); found {
		kind = RuleKindWildcard
		text = after
	}

	labels := strings.Split(text, ".")
	for i, label := range labels {
		labels[i] = netloc.DecodePunycode(label)
	}

	return Rule{Kind: kind, Labels: labels, Private: private}
}

const noChild = int32(-1)

type node struct {
	children map[string]int32
	// wildcard is the node for a "*" child, noChild when absent.
	wildcard int32
	// exceptions maps a label to its exception node, carved out of wildcard.
	exceptions map[string]int32
	isEnd      bool
	isPrivate  bool
}

// Trie is an arena of nodes addressed by index; node 0 is the root (the
// empty suffix). The path root→node via labels L1…Lk corresponds exactly to
// the suffix Lk.Lk-1….L1, and isEnd marks a complete rule. The structure is
// immutable once built and safe for concurrent walks.
type Trie struct {
	nodes []node
}

func NewTrie(rules []Rule) *Trie {
	trie := &Trie{nodes: []node{{wildcard: noChild}}}
	for _, rule := range rules {
		trie.add(rule)
	}
	return trie
}

func (trie *Trie) newNode() int32 {
	trie.nodes = append(trie.nodes, node{wildcard: noChild})
	return int32(len(trie.nodes) - 1)
}

// walkCreate descends from the root along the reversed labels, creating
// nodes as needed, and returns the index of the terminal node.
func (trie *Trie) walkCreate(labels []string) int32 {
	currentIndex := int32(0)
	for i := len(labels) - 1; i >= 0; i-- {
		label := labels[i]
		childIndex, ok := trie.nodes[currentIndex].children[label]
		if !ok {
			childIndex = trie.newNode()
			if trie.nodes[currentIndex].children == nil {
				trie.nodes[currentIndex].children = make(map[string]int32)
			}
			trie.nodes[currentIndex].children[label] = childIndex
		}
		currentIndex = childIndex
	}
	return currentIndex
}

func (trie *Trie) add(rule Rule) {
	switch rule.Kind {
	case RuleKindException:
		if len(rule.Labels) < 2 {
			// An exception needs a covering wildcard one level up.
			return
		}
		parentIndex := trie.walkCreate(rule.Labels[1:])
		exceptionIndex := trie.newNode()
		trie.nodes[exceptionIndex].isEnd = true
		trie.nodes[exceptionIndex].isPrivate = rule.Private
		if trie.nodes[parentIndex].exceptions == nil {
			trie.nodes[parentIndex].exceptions = make(map[string]int32)
		}
		trie.nodes[parentIndex].exceptions[rule.Labels[0]] = exceptionIndex
	case RuleKindWildcard:
		parentIndex := trie.walkCreate(rule.Labels)
		wildcardIndex := trie.nodes[parentIndex].wildcard
		if wildcardIndex == noChild {
			wildcardIndex = trie.newNode()
			trie.nodes[parentIndex].wildcard = wildcardIndex
		}
		trie.nodes[wildcardIndex].isEnd = true
		trie.nodes[wildcardIndex].isPrivate = rule.Private
	default:
		endIndex := trie.walkCreate(rule.Labels)
		trie.nodes[endIndex].isEnd = true
		trie.nodes[endIndex].isPrivate = rule.Private
	}
}

// Match is the result of a suffix walk. PublicIndex is the index of the
// first public-suffix label and RegistryIndex the index of the first
// registry-suffix (never private) label; both equal the label count when
// nothing matched. Private reports whether the public match came from a
// private-section rule.
type Match struct {
	PublicIndex   int
	RegistryIndex int
	Private       bool
}

// SuffixIndex walks the labels from the rightmost inward. Longer matches win
// because the recorded index is only overwritten on a deeper descent.
// Wildcards are evaluated once, at the point the literal-label chain runs
// out.
func (trie *Trie) SuffixIndex(decodedLabels []string) Match {
	length := len(decodedLabels)
	match := Match{PublicIndex: length, RegistryIndex: length}

	currentIndex := int32(0)
	j := length
	for position := length - 1; position >= 0; position-- {
		label := decodedLabels[position]

		if childIndex, ok := trie.nodes[currentIndex].children[label]; ok {
			j--
			currentIndex = childIndex
			childNode := trie.nodes[childIndex]
			if childNode.isEnd {
				match.PublicIndex = j
				match.Private = childNode.isPrivate
				if !childNode.isPrivate {
					match.RegistryIndex = j
				}
			}
			continue
		}

		if wildcardIndex := trie.nodes[currentIndex].wildcard; wildcardIndex != noChild {
			if exceptionIndex, ok := trie.nodes[currentIndex].exceptions[label]; ok {
				// The exception claims this label as ordinary domain; the
				// suffix ends one level shallower than the wildcard would
				// have put it.
				exceptionNode := trie.nodes[exceptionIndex]
				match.PublicIndex = j
				match.Private = exceptionNode.isPrivate
				if !exceptionNode.isPrivate {
					match.RegistryIndex = j
				}
			} else {
				wildcardNode := trie.nodes[wildcardIndex]
				match.PublicIndex = j - 1
				match.Private = wildcardNode.isPrivate
				if !wildcardNode.isPrivate {
					match.RegistryIndex = j - 1
				}
			}
		}
		break
	}

	return match
}

// Set is one rule-set snapshot built into its two trie variants: one from
// public∪extra rules only, one that additionally includes the private-section
// rules.
type Set struct {
	withPrivate    *Trie
	withoutPrivate *Trie

	tldsInclPrivate []string
	tldsExclPrivate []string
}

func NewSet(publicTlds []string, privateTlds []string, extraTlds []string) *Set {
	rules := make([]Rule, 0, len(publicTlds)+len(extraTlds)+len(privateTlds))
	for _, tld := range publicTlds {
		rules = append(rules, ParseRule(tld, false))
	}
	for _, tld := range extraTlds {
		rules = append(rules, ParseRule(tld, false))
	}
	nonPrivateRuleCount := len(rules)
	for _, tld := range privateTlds {
		rules = append(rules, ParseRule(tld, true))
	}

	tldsExclPrivate := make([]string, 0, nonPrivateRuleCount)
	tldsExclPrivate = append(tldsExclPrivate, publicTlds...)
	tldsExclPrivate = append(tldsExclPrivate, extraTlds...)
	slices.Sort(tldsExclPrivate)
	tldsExclPrivate = slices.Compact(tldsExclPrivate)

	tldsInclPrivate := make([]string, 0, len(tldsExclPrivate)+len(privateTlds))
	tldsInclPrivate = append(tldsInclPrivate, tldsExclPrivate...)
	tldsInclPrivate = append(tldsInclPrivate, privateTlds...)
	slices.Sort(tldsInclPrivate)
	tldsInclPrivate = slices.Compact(tldsInclPrivate)

	return &Set{
		withPrivate:     NewTrie(rules),
		withoutPrivate:  NewTrie(rules[:nonPrivateRuleCount]),
		tldsInclPrivate: tldsInclPrivate,
		tldsExclPrivate: tldsExclPrivate,
	}
}

func (set *Set) Trie(includePrivate bool) *Trie {
	if includePrivate {
		return set.withPrivate
	}
	return set.withoutPrivate
}

// Tlds returns the active rule strings, sorted and deduplicated.
func (set *Set) Tlds(includePrivate bool) []string {
	if includePrivate {
		return slices.Clone(set.tldsInclPrivate)
	}
	return slices.Clone(set.tldsExclPrivate)
}
