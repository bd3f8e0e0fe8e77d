package services

import (
	"sort"

	"rag-document-pipeline/models"
)

// Pack assembles the final context bundle: deduplicate candidates keeping
// the best-ranked instance of each chunk, order deterministically, then fill
// the token budget greedily. Reranked candidates always precede candidates
// that kept their fused score, since the two scores are not on a comparable
// scale: the reranked head is ordered by rerank score, the tail follows by
// fused score, with chunk id breaking ties in both. Budget filling skips a
// candidate that does not fit and keeps going, so an over-budget top
// candidate is omitted (not served alone) whenever anything else fits. Only
// when nothing fits whole is the single best candidate truncated and
// flagged.
func Pack(candidates []models.RetrievalCandidate, tokenBudget int) models.ContextBundle {
	bundle := models.ContextBundle{TokenBudget: tokenBudget}
	if len(candidates) == 0 || tokenBudget <= 0 {
		return bundle
	}

	deduped := dedupeCandidates(candidates)
	sort.SliceStable(deduped, func(i, j int) bool {
		return candidateBefore(deduped[i], deduped[j])
	})

	for _, c := range deduped {
		if bundle.TokenCount+c.TokenEstimate <= tokenBudget {
			bundle.Candidates = append(bundle.Candidates, c)
			bundle.TokenCount += c.TokenEstimate
		}
	}

	if len(bundle.Candidates) == 0 {
		// Nothing fits whole: serve the top candidate truncated rather than
		// an empty context.
		top := deduped[0]
		top.Text = TruncateToTokens(top.Text, tokenBudget)
		top.TokenEstimate = EstimateTokens(top.Text)
		bundle.Candidates = []models.RetrievalCandidate{top}
		bundle.TokenCount = top.TokenEstimate
		bundle.TruncatedSingle = true
	}

	return bundle
}

// candidateBefore is the packing order. Rerank scores and fused scores live
// on different scales, so the reranked/unreranked partition is the primary
// key; score and chunk id order candidates within each side.
func candidateBefore(a, b models.RetrievalCandidate) bool {
	if (a.RerankScore != nil) != (b.RerankScore != nil) {
		return a.RerankScore != nil
	}
	if a.FinalScore() != b.FinalScore() {
		return a.FinalScore() > b.FinalScore()
	}
	return a.ChunkID < b.ChunkID
}

// dedupeCandidates keeps one instance per chunk id, preferring the one that
// packs earlier (earlier position on exact ties).
func dedupeCandidates(candidates []models.RetrievalCandidate) []models.RetrievalCandidate {
	best := make(map[string]int, len(candidates))
	out := make([]models.RetrievalCandidate, 0, len(candidates))

	for _, c := range candidates {
		idx, seen := best[c.ChunkID]
		if !seen {
			best[c.ChunkID] = len(out)
			out = append(out, c)
			continue
		}
		if candidateBefore(c, out[idx]) {
			out[idx] = c
		}
	}
	return out
}
