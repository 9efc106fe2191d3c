package chat

import (
	"sort"

	"github.com/lostfound/messaging/internal/model"
)

// mergeMessages adds incoming to existing, replacing entries with the same
// ID, and keeps the result ordered by creation time.
func mergeMessages(existing []model.Message, incoming ...model.Message) []model.Message {
	index := make(map[string]int, len(existing))
	for i := range existing {
		index[existing[i].ID] = i
	}

	for _, m := range incoming {
		if i, ok := index[m.ID]; ok {
			// Read state only moves forward.
			m.IsRead = m.IsRead || existing[i].IsRead
			existing[i] = m
			continue
		}
		index[m.ID] = len(existing)
		existing = append(existing, m)
	}

	sort.SliceStable(existing, func(i, j int) bool {
		return existing[i].CreatedAt.Before(existing[j].CreatedAt)
	})
	return existing
}

// bumpSummary records m as the latest activity of its conversation in list
// and moves that entry to the front.
func bumpSummary(list []model.ConversationSummary, m model.Message) []model.ConversationSummary {
	for i := range list {
		if list[i].ID != m.ConversationID {
			continue
		}
		entry := list[i]
		if entry.LastMessage == nil || !m.CreatedAt.Before(entry.LastMessage.CreatedAt) {
			last := m
			entry.LastMessage = &last
		}
		if m.CreatedAt.After(entry.UpdatedAt) {
			entry.UpdatedAt = m.CreatedAt
		}
		copy(list[1:i+1], list[:i])
		list[0] = entry
		return list
	}
	return list
}
