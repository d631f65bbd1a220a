package service

import (
	"sort"
	"time"

	"github.com/timmy/autograde/internal/domain"
)

// Aggregate joins terminal progress records with the similarity pairs that reference them.
// Non-terminal records are left out and each student appears once. A pair is attached as
// a flag to every member that has an entry. No statistics are computed here.
func Aggregate(records []domain.ProgressRecord, pairs []domain.SimilarityPair) *domain.ResultSet {
	byID := make(map[string]domain.ProgressRecord, len(records))
	for _, rec := range records {
		if !rec.Status.IsTerminal() {
			continue
		}
		if prev, ok := byID[rec.StudentID]; ok && !rec.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		byID[rec.StudentID] = rec
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	set := &domain.ResultSet{
		GeneratedAt: time.Now().UTC(),
		Entries:     make([]domain.ResultEntry, 0, len(ids)),
		Pairs:       make([]domain.SimilarityPair, 0, len(pairs)),
	}
	for i, id := range ids {
		rec := byID[id]
		index[id] = i
		set.Entries = append(set.Entries, domain.ResultEntry{ProgressRecord: rec})
		set.Counts.Total++
		if rec.Status == domain.ProgressStatusSucceeded {
			set.Counts.Succeeded++
		} else {
			set.Counts.Failed++
		}
	}

	for _, pair := range pairs {
		ia, okA := index[pair.StudentA]
		ib, okB := index[pair.StudentB]
		if !okA && !okB {
			continue
		}
		set.Pairs = append(set.Pairs, pair)
		if okA {
			set.Entries[ia].Flags = append(set.Entries[ia].Flags, domain.FlagFromPair(pair, pair.StudentA))
		}
		if okB {
			set.Entries[ib].Flags = append(set.Entries[ib].Flags, domain.FlagFromPair(pair, pair.StudentB))
		}
	}

	for i := range set.Entries {
		if len(set.Entries[i].Flags) > 0 {
			set.Counts.Flagged++
			sort.SliceStable(set.Entries[i].Flags, func(a, b int) bool {
				fa, fb := set.Entries[i].Flags[a], set.Entries[i].Flags[b]
				if fa.Score != fb.Score {
					return fa.Score > fb.Score
				}
				return fa.Peer < fb.Peer
			})
		}
	}

	return set
}
