// Package dataset loads BEIR-style retrieval benchmark datasets from a
// local directory: a JSONL corpus, JSONL queries, and TSV relevance
// judgments split by eval split name.
package dataset

// Document is a single corpus document.
type Document struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Query is a single evaluation query.
type Query struct {
	ID   string `json:"_id"`
	Text string `json:"text"`
}

// Qrels maps query IDs to document relevance judgments.
// Inner map: docID -> graded relevance label (0 = not relevant).
type Qrels map[string]map[string]int

// Dataset holds a fully loaded benchmark split.
type Dataset struct {
	Name    string
	Corpus  []Document
	Queries []Query
	Qrels   Qrels
}
