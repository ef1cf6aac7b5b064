package cache

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sort"
	"time"
)

const topN = 10

// unassignedBook groups legacy entries whose metadata names no book.
const unassignedBook = "unassigned"

// Enumerator is the read side of a Store used for statistics.
type Enumerator interface {
	Entries(ctx context.Context, f Filter) iter.Seq2[Entry, error]
}

// Summary is the raw footprint of the cache.
type Summary struct {
	Entries    int   `json:"entryCount"`
	Files      int   `json:"fileCount"`
	TotalBytes int64 `json:"totalBytes"`
}

// BookStats totals the entries owned by one book.
type BookStats struct {
	Book     string    `json:"bookId"`
	Entries  int       `json:"count"`
	Bytes    int64     `json:"totalSize"`
	Voices   []string  `json:"voices"`
	LastUsed time.Time `json:"lastUsed"`
}

// VoiceStats totals the entries synthesized with one voice.
type VoiceStats struct {
	Voice   string `json:"voice"`
	Entries int    `json:"count"`
	Bytes   int64  `json:"totalSize"`
	Books   int    `json:"books"`
}

// UsageItem describes a single entry in the top-used and recent lists.
type UsageItem struct {
	Key      string    `json:"key"`
	Book     string    `json:"bookId"`
	Voice    string    `json:"voice"`
	Text     string    `json:"text"`
	Size     int64     `json:"size"`
	UseCount int64     `json:"useCount"`
	LastUsed time.Time `json:"lastUsed"`
}

// Detail is the grouped view of the cache.
type Detail struct {
	Summary  Summary      `json:"summary"`
	PerBook  []BookStats  `json:"perBook"`
	PerVoice []VoiceStats `json:"perVoice"`
	TopUsed  []UsageItem  `json:"topUsed"`
	Recent   []UsageItem  `json:"recent"`
}

// BookStatus reports what is cached for one book.
type BookStatus struct {
	Book        string     `json:"bookId"`
	Voice       string     `json:"voice,omitempty"`
	Count       int        `json:"cachedCount"`
	TotalBytes  int64      `json:"totalSize"`
	LastUpdated *time.Time `json:"lastUpdated"`
	Voices      []string   `json:"voices,omitempty"`
}

// Aggregator computes statistics by scanning an Enumerator.
type Aggregator struct {
	src Enumerator
}

// NewAggregator returns an Aggregator over src.
func NewAggregator(src Enumerator) *Aggregator {
	return &Aggregator{src: src}
}

// Summary counts every entry, with or without readable metadata.
func (a *Aggregator) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	for e, err := range a.src.Entries(ctx, Filter{}) {
		if err != nil {
			return Summary{}, err
		}
		s.add(e)
	}
	return s, nil
}

func (s *Summary) add(e Entry) {
	s.Entries++
	s.Files += e.Files()
	s.TotalBytes += e.AudioBytes + e.MetaBytes
}

// Detail groups entries by book and voice and ranks them by use. Entries
// without readable metadata only contribute to the summary.
func (a *Aggregator) Detail(ctx context.Context) (Detail, error) {
	var d Detail

	books := make(map[string]*BookStats)
	bookVoices := make(map[string]map[string]struct{})
	voices := make(map[string]*VoiceStats)
	voiceBooks := make(map[string]map[string]struct{})
	var items []UsageItem

	for e, err := range a.src.Entries(ctx, Filter{}) {
		if err != nil {
			return Detail{}, err
		}
		d.Summary.add(e)

		if e.Meta == nil {
			continue
		}
		m := e.Meta

		book := cmp.Or(m.BookID, e.Book, unassignedBook)
		voice := cmp.Or(m.Voice, e.Voice)

		bs, ok := books[book]
		if !ok {
			bs = &BookStats{Book: book}
			books[book] = bs
			bookVoices[book] = make(map[string]struct{})
		}
		bs.Entries++
		bs.Bytes += m.Size
		if m.LastUsed.After(bs.LastUsed) {
			bs.LastUsed = m.LastUsed
		}
		bookVoices[book][voice] = struct{}{}

		vs, ok := voices[voice]
		if !ok {
			vs = &VoiceStats{Voice: voice}
			voices[voice] = vs
			voiceBooks[voice] = make(map[string]struct{})
		}
		vs.Entries++
		vs.Bytes += m.Size
		voiceBooks[voice][book] = struct{}{}

		items = append(items, UsageItem{
			Key:      e.Key.String(),
			Book:     book,
			Voice:    voice,
			Text:     m.Text,
			Size:     m.Size,
			UseCount: m.UseCount,
			LastUsed: m.LastUsed,
		})
	}

	d.PerBook = make([]BookStats, 0, len(books))
	for name, bs := range books {
		bs.Voices = sortedKeys(bookVoices[name])
		d.PerBook = append(d.PerBook, *bs)
	}
	slices.SortFunc(d.PerBook, func(a, b BookStats) int { return cmp.Compare(a.Book, b.Book) })

	d.PerVoice = make([]VoiceStats, 0, len(voices))
	for name, vs := range voices {
		vs.Books = len(voiceBooks[name])
		d.PerVoice = append(d.PerVoice, *vs)
	}
	slices.SortFunc(d.PerVoice, func(a, b VoiceStats) int { return cmp.Compare(a.Voice, b.Voice) })

	d.TopUsed = rank(items, func(a, b UsageItem) int {
		return cmp.Or(cmp.Compare(b.UseCount, a.UseCount), cmp.Compare(a.Key, b.Key))
	})
	d.Recent = rank(items, func(a, b UsageItem) int {
		return cmp.Or(b.LastUsed.Compare(a.LastUsed), cmp.Compare(a.Key, b.Key))
	})

	return d, nil
}

// BookStatus totals the entries of one book, optionally one voice. When
// voice is empty the voices with cached audio are listed.
func (a *Aggregator) BookStatus(ctx context.Context, book, voice string) (BookStatus, error) {
	st := BookStatus{Book: book, Voice: voice}
	seen := make(map[string]struct{})

	for e, err := range a.src.Entries(ctx, Filter{Book: book, Voice: voice}) {
		if err != nil {
			return BookStatus{}, err
		}
		st.Count++
		st.TotalBytes += e.AudioBytes

		updated := e.ModTime
		if e.Meta != nil && e.Meta.LastUsed.After(updated) {
			updated = e.Meta.LastUsed
		}
		if st.LastUpdated == nil || updated.After(*st.LastUpdated) {
			t := updated
			st.LastUpdated = &t
		}
		seen[cmp.Or(e.Voice, voiceOf(e))] = struct{}{}
	}

	if voice == "" {
		st.Voices = sortedKeys(seen)
	}
	return st, nil
}

func voiceOf(e Entry) string {
	if e.Meta != nil {
		return e.Meta.Voice
	}
	return ""
}

func rank(items []UsageItem, less func(a, b UsageItem) int) []UsageItem {
	out := slices.Clone(items)
	slices.SortStableFunc(out, less)
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
