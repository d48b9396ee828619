package storage

import (
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"parley/model"
)

// PreviewWidth is the display width of search result previews
const PreviewWidth = 100

// MessageMatch is a search hit within one session
type MessageMatch struct {
	SessionID    string
	SessionName  string
	MessageIndex int
	MessageID    string
	Role         model.Role
	Preview      string
	Timestamp    time.Time
}

// SearchMessages finds non-system messages whose text or reasoning contains
// query, case-insensitively
func SearchMessages(messages []model.Message, query string) []MessageMatch {
	query = strings.TrimSpace(query)
	if query == "" {
		return []MessageMatch{}
	}

	queryLower := strings.ToLower(query)
	var matches []MessageMatch
	for i, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}

		text := msg.PlainText()
		if !strings.Contains(strings.ToLower(text), queryLower) &&
			!strings.Contains(strings.ToLower(msg.Reasoning), queryLower) {
			continue
		}
		if text == "" {
			text = msg.Reasoning
		}

		matches = append(matches, MessageMatch{
			MessageIndex: i,
			MessageID:    msg.ID,
			Role:         msg.Role,
			Preview:      Preview(text, PreviewWidth),
			Timestamp:    msg.Timestamp,
		})
	}
	return matches
}

// Preview flattens text to one line and truncates it to width display cells
func Preview(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if runewidth.StringWidth(text) <= width {
		return text
	}
	return runewidth.Truncate(text, width, "...")
}

// SearchIndex searches across every stored session
type SearchIndex struct {
	storage *SessionStorage
}

func NewSearchIndex(storage *SessionStorage) *SearchIndex {
	return &SearchIndex{storage: storage}
}

// SearchAllSessions runs SearchMessages over every session, newest session first
func (si *SearchIndex) SearchAllSessions(query string) ([]MessageMatch, error) {
	if strings.TrimSpace(query) == "" {
		return []MessageMatch{}, nil
	}

	sessionList, err := si.storage.List()
	if err != nil {
		return nil, err
	}

	var matches []MessageMatch
	for _, meta := range sessionList {
		session, err := si.storage.Load(meta.ID)
		if err != nil {
			continue
		}
		for _, m := range SearchMessages(session.Messages, query) {
			m.SessionID = session.ID
			m.SessionName = session.Name
			matches = append(matches, m)
		}
	}
	return matches, nil
}

type sessionNames []SessionMetadata

func (s sessionNames) String(i int) string { return s[i].Name }
func (s sessionNames) Len() int            { return len(s) }

// FindSessions fuzzy-matches session names, best match first
func (si *SearchIndex) FindSessions(query string) ([]SessionMetadata, error) {
	sessionList, err := si.storage.List()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return sessionList, nil
	}

	results := fuzzy.FindFrom(query, sessionNames(sessionList))
	out := make([]SessionMetadata, 0, len(results))
	for _, r := range results {
		out = append(out, sessionList[r.Index])
	}
	return out, nil
}
