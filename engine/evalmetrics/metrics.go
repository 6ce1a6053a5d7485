// Package evalmetrics scores retrieval results against relevance
// judgments. The measures follow the TREC conventions: NDCG uses the
// graded judgment as gain with a log2 rank discount, while MAP, Recall
// and Precision treat any judgment above zero as relevant.
package evalmetrics

import (
	"math"
	"sort"

	"github.com/densemark/densemark/engine/dataset"
	"github.com/densemark/densemark/engine/search"
)

// Summary holds one averaged value per cutoff for each measure.
type Summary struct {
	// Queries is the number of queries the averages cover: those present
	// in both the judgments and the results.
	Queries   int
	NDCG      map[int]float64
	MAP       map[int]float64
	Recall    map[int]float64
	Precision map[int]float64
}

// Evaluate averages the measures at each cutoff over the queries that
// appear in both qrels and results. Queries missing from results (for
// example because retrieval skipped them) shrink the evaluated set
// rather than erroring; results for queries without judgments are
// ignored. With no overlap every value is zero.
func Evaluate(qrels dataset.Qrels, results search.Results, cutoffs []int) Summary {
	sum := Summary{
		NDCG:      make(map[int]float64, len(cutoffs)),
		MAP:       make(map[int]float64, len(cutoffs)),
		Recall:    make(map[int]float64, len(cutoffs)),
		Precision: make(map[int]float64, len(cutoffs)),
	}

	for queryID, judged := range qrels {
		ranked, ok := results[queryID]
		if !ok {
			continue
		}
		sum.Queries++
		ranking := rankByScore(ranked)
		for _, k := range cutoffs {
			sum.NDCG[k] += ndcgAt(judged, ranking, k)
			sum.MAP[k] += averagePrecisionAt(judged, ranking, k)
			sum.Recall[k] += recallAt(judged, ranking, k)
			sum.Precision[k] += precisionAt(judged, ranking, k)
		}
	}

	if sum.Queries > 0 {
		n := float64(sum.Queries)
		for _, k := range cutoffs {
			sum.NDCG[k] /= n
			sum.MAP[k] /= n
			sum.Recall[k] /= n
			sum.Precision[k] /= n
		}
	} else {
		for _, k := range cutoffs {
			sum.NDCG[k] = 0
			sum.MAP[k] = 0
			sum.Recall[k] = 0
			sum.Precision[k] = 0
		}
	}
	return sum
}

// rankByScore orders doc IDs by descending score, breaking ties by ID so
// the ranking is deterministic.
func rankByScore(scored map[string]float64) []string {
	ids := make([]string, 0, len(scored))
	for id := range scored {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := scored[ids[i]], scored[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func ndcgAt(judged map[string]int, ranking []string, k int) float64 {
	var dcg float64
	for i, id := range ranking {
		if i >= k {
			break
		}
		if rel := judged[id]; rel > 0 {
			dcg += float64(rel) / math.Log2(float64(i)+2)
		}
	}

	rels := make([]int, 0, len(judged))
	for _, rel := range judged {
		if rel > 0 {
			rels = append(rels, rel)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(rels)))

	var ideal float64
	for i, rel := range rels {
		if i >= k {
			break
		}
		ideal += float64(rel) / math.Log2(float64(i)+2)
	}
	if ideal == 0 {
		return 0
	}
	return dcg / ideal
}

func averagePrecisionAt(judged map[string]int, ranking []string, k int) float64 {
	total := relevantCount(judged)
	if total == 0 {
		return 0
	}
	var hits int
	var sum float64
	for i, id := range ranking {
		if i >= k {
			break
		}
		if judged[id] > 0 {
			hits++
			sum += float64(hits) / float64(i+1)
		}
	}
	return sum / float64(total)
}

func recallAt(judged map[string]int, ranking []string, k int) float64 {
	total := relevantCount(judged)
	if total == 0 {
		return 0
	}
	var hits int
	for i, id := range ranking {
		if i >= k {
			break
		}
		if judged[id] > 0 {
			hits++
		}
	}
	return float64(hits) / float64(total)
}

func precisionAt(judged map[string]int, ranking []string, k int) float64 {
	if k <= 0 {
		return 0
	}
	var hits int
	for i, id := range ranking {
		if i >= k {
			break
		}
		if judged[id] > 0 {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

func relevantCount(judged map[string]int) int {
	var n int
	for _, rel := range judged {
		if rel > 0 {
			n++
		}
	}
	return n
}
