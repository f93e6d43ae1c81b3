package pool

import (
	"sort"
	"strings"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Merge combines the successful payloads of results into one document.
// The output does not depend on completion order.
func Merge(results []domain.ExpertResult) string {
	ok := make([]domain.ExpertResult, 0, len(results))
	for _, r := range results {
		if r.Succeeded() {
			ok = append(ok, r)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool {
		if ok[i].ExpertRef != ok[j].ExpertRef {
			return ok[i].ExpertRef < ok[j].ExpertRef
		}
		return ok[i].Payload < ok[j].Payload
	})

	if len(ok) == 1 {
		return ok[0].Payload
	}
	var b strings.Builder
	for i, r := range ok {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(r.ExpertRef)
		b.WriteString("\n")
		b.WriteString(r.Payload)
	}
	return b.String()
}

// DominantFailure names the failure reason of a step in which every expert
// failed: the most frequent failure status, ties going to timeout, then
// error, then cancelled.
func DominantFailure(results []domain.ExpertResult) domain.FailureReason {
	counts := map[domain.ExpertStatus]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	ranked := []struct {
		status domain.ExpertStatus
		reason domain.FailureReason
	}{
		{domain.ExpertStatusTimeout, domain.FailureExpertTimeout},
		{domain.ExpertStatusError, domain.FailureExpertError},
		{domain.ExpertStatusCancelled, domain.FailureExpertCancelled},
	}
	best := domain.FailureExpertError
	bestCount := 0
	for _, r := range ranked {
		if counts[r.status] > bestCount {
			best, bestCount = r.reason, counts[r.status]
		}
	}
	return best
}
