// Package graph assembles the cached mirror into a flat statement graph.
// Assembly is a pure transform over the cache store and the identity
// mapping; it performs no remote calls.
package graph

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Term is one statement object: either a node reference or a literal.
type Term struct {
	Value   string
	Literal bool
}

func IRI(value string) Term {
	return Term{Value: value}
}

func Literal(value string) Term {
	return Term{Value: value, Literal: true}
}

// NoValue marks an absent-but-expected attribute.
var NoValue = IRI(":novalue")

// Statement is one (subject, predicate, object) assertion.
type Statement struct {
	Subject   string
	Predicate string
	Object    Term
}

// Graph is an ordered statement list. Order is the emission order of the
// assembly passes; consumers that need set semantics deduplicate downstream.
type Graph struct {
	statements []Statement
}

func (g *Graph) Add(subject, predicate string, object Term) {
	g.statements = append(g.statements, Statement{Subject: subject, Predicate: predicate, Object: object})
}

func (g *Graph) Statements() []Statement {
	return g.statements
}

func (g *Graph) Len() int {
	return len(g.statements)
}

// String renders the statement in a line-oriented triple form. Literals are
// quoted, node references are not.
func (s Statement) String() string {
	object := s.Object.Value
	if s.Object.Literal {
		object = strconv.Quote(s.Object.Value)
	}
	return s.Subject + " " + s.Predicate + " " + object + " ."
}

// Render writes every statement on its own line, in emission order.
func Render(g *Graph) []byte {
	var b strings.Builder
	for _, statement := range g.Statements() {
		b.WriteString(statement.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// PersonIRI returns the node reference for a canonical person ID.
func PersonIRI(id string) string {
	return "person:" + url.PathEscape(id)
}

// SubmissionIRI returns the node reference for a submission ID.
func SubmissionIRI(id string) string {
	return "submission:" + url.PathEscape(id)
}

// PublicationIRI returns the node reference for an external publication.
func PublicationIRI(id string) string {
	return "publication:" + url.PathEscape(id)
}

// ReviewIRI returns the node reference for one review, unique per
// (submission, reviewer) pair.
func ReviewIRI(submissionID, reviewerID string) string {
	return "review:" + url.PathEscape(submissionID) + "/" + url.PathEscape(reviewerID)
}

// DateTime renders an epoch-millisecond timestamp as an RFC 3339 literal.
func DateTime(ms int64) Term {
	return Literal(time.UnixMilli(ms).UTC().Format(time.RFC3339))
}

// Date renders an epoch-millisecond timestamp as a date-only literal.
func Date(ms int64) Term {
	return Literal(time.UnixMilli(ms).UTC().Format(time.DateOnly))
}
