package analysis

import (
	"context"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	recommendedMatchScore = 70
	maxParallelProfiles   = 4
)

type ProfileMatch struct {
	MatchScore  int  `json:"match_score"`
	Recommended bool `json:"recommended"`
}

type Comparison struct {
	BestMatchType    string                  `json:"best_match_type"`
	BestMatchScore   int                     `json:"best_match_score"`
	AllComparisons   map[string]ProfileMatch `json:"all_comparisons"`
	DetailedAnalysis Result                  `json:"detailed_analysis"`
}

// CompareResults picks the profile with the highest completeness score.
// Ties go to the first name in sorted order.
func CompareResults(results map[string]Result) Comparison {
	out := Comparison{AllComparisons: make(map[string]ProfileMatch, len(results))}
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	best := ""
	for _, name := range names {
		score := results[name].CompletenessScore
		out.AllComparisons[name] = ProfileMatch{MatchScore: score, Recommended: score > recommendedMatchScore}
		if best == "" || score > results[best].CompletenessScore {
			best = name
		}
	}
	if best != "" {
		out.BestMatchType = best
		out.BestMatchScore = results[best].CompletenessScore
		out.DetailedAnalysis = results[best]
	}
	return out
}

// Compare analyzes text once per profile and reports the best match. When
// ctx ends early, profiles that never started are left out of the result.
func Compare(ctx context.Context, a Analyzer, profiles []string, text string) Comparison {
	results := make([]Result, len(profiles))
	ran := make([]bool, len(profiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProfiles)
	for i, name := range profiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = a.AnalyzeClaim(gctx, Input{DocumentText: text, ClaimType: name})
			ran[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("profile comparison stopped early: %v", err)
	}
	byName := make(map[string]Result, len(profiles))
	for i, name := range profiles {
		if ran[i] {
			byName[name] = results[i]
		}
	}
	return CompareResults(byName)
}
