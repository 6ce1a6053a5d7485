package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Load reads a dataset directory laid out as:
//
//	<dir>/corpus.jsonl
//	<dir>/queries.jsonl
//	<dir>/qrels/<split>.tsv
//
// Queries without a judgment in the split are dropped, so the returned
// query set and qrels cover the same query IDs.
func Load(dir, split string) (*Dataset, error) {
	corpus, err := loadCorpus(filepath.Join(dir, "corpus.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("dataset: load corpus: %w", err)
	}

	qrels, err := loadQrels(filepath.Join(dir, "qrels", split+".tsv"))
	if err != nil {
		return nil, fmt.Errorf("dataset: load qrels: %w", err)
	}

	queries, err := loadQueries(filepath.Join(dir, "queries.jsonl"), qrels)
	if err != nil {
		return nil, fmt.Errorf("dataset: load queries: %w", err)
	}

	return &Dataset{
		Name:    filepath.Base(dir),
		Corpus:  corpus,
		Queries: queries,
		Qrels:   qrels,
	}, nil
}

func loadCorpus(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []Document
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<24) // corpus lines can be long
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var d Document
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if d.ID == "" {
			return nil, fmt.Errorf("line %d: document missing _id", line)
		}
		docs = append(docs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func loadQueries(path string, qrels Qrels) ([]Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var queries []Query
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<22)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var q Query
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, judged := qrels[q.ID]; !judged {
			continue
		}
		queries = append(queries, q)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return queries, nil
}

// loadQrels parses a BEIR qrels TSV: query-id, corpus-id, score. A header
// row is tolerated and skipped.
func loadQrels(path string) (Qrels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	qrels := make(Qrels)
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		fields := strings.Split(raw, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want 3 tab-separated fields, got %d", line, len(fields))
		}
		// Only the literal BEIR header is skipped; a corrupt first data
		// row is an error, not a header.
		if line == 1 && fields[0] == "query-id" && fields[1] == "corpus-id" && fields[2] == "score" {
			continue
		}
		score, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad relevance score %q", line, fields[2])
		}
		qid, did := fields[0], fields[1]
		if qrels[qid] == nil {
			qrels[qid] = make(map[string]int)
		}
		qrels[qid][did] = score
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(qrels) == 0 {
		return nil, fmt.Errorf("no judgments in %s", path)
	}
	return qrels, nil
}
