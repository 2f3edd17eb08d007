package pipeline

import (
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/yungbote/knowledgeflow-backend/internal/convert"
)

// SelectPages picks up to min(10, max(round(total*ratio), min(hint,total)))
// page indices. Selection starts at the middle page and random-walks
// outward in bounded steps so samples cover distinct document regions.
func SelectPages(totalPages int, ratio float64, maxPagesHint int, rnd *rand.Rand) []int {
	if totalPages <= 0 {
		return nil
	}
	ratioCount := int(math.Round(float64(totalPages) * ratio))
	if ratioCount < 1 {
		ratioCount = 1
	}
	hint := maxPagesHint
	if hint > totalPages {
		hint = totalPages
	}
	limit := ratioCount
	if hint > limit {
		limit = hint
	}
	if limit > 10 {
		limit = 10
	}

	if limit >= totalPages {
		all := make([]int, totalPages)
		for i := range all {
			all[i] = i
		}
		return all
	}

	mid := totalPages / 2
	selected := map[int]bool{mid: true}
	left, right := mid, mid
	maxStep := totalPages
	if maxStep > 3 {
		maxStep = 3
	}
	if maxStep < 1 {
		maxStep = 1
	}
	for len(selected) < limit && (left > 0 || right < totalPages-1) {
		goLeft := left > 0
		goRight := right < totalPages-1
		dirLeft := goLeft
		if goLeft && goRight {
			dirLeft = rnd.Intn(2) == 0
		}
		step := 1 + rnd.Intn(maxStep)
		if dirLeft {
			left -= step
			if left < 0 {
				left = 0
			}
			selected[left] = true
		} else {
			right += step
			if right > totalPages-1 {
				right = totalPages - 1
			}
			selected[right] = true
		}
	}

	out := make([]int, 0, len(selected))
	for idx := range selected {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// CapSamples truncates trailing pages so the concatenated length stays
// within charLimit. charLimit <= 0 disables the cap.
func CapSamples(texts []string, charLimit int) []string {
	if charLimit <= 0 {
		return texts
	}
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	if total <= charLimit {
		return texts
	}
	remaining := charLimit
	capped := make([]string, 0, len(texts))
	for _, t := range texts {
		if remaining <= 0 {
			break
		}
		if len(t) > remaining {
			t = t[:remaining]
		}
		capped = append(capped, t)
		remaining -= len(t)
	}
	return capped
}

// SamplePDF extracts text from a sampled page subset of the document.
func (s *Service) SamplePDF(path string, maxPagesHint int) ([]string, []int, error) {
	pages, err := convert.ExtractPDFPages(path)
	if err != nil {
		return nil, nil, err
	}
	if len(pages) == 0 {
		return nil, nil, nil
	}
	selected := SelectPages(len(pages), s.cfg.SamplePageRatio, maxPagesHint, s.rnd)
	texts := make([]string, 0, len(selected))
	for _, idx := range selected {
		texts = append(texts, pages[idx])
	}
	texts = CapSamples(texts, s.cfg.SampleCharLimit)
	s.log.Debug("Page sampling done", "total", len(pages), "selected", selected)
	return texts, selected, nil
}

// SampleMarkdown takes up to sample_pages non-empty paragraphs from the
// char-capped head of the artifact.
func (s *Service) SampleMarkdown(path string) ([]string, []int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	content := string(raw)
	if content == "" {
		return []string{""}, []int{0}, nil
	}
	if s.cfg.SampleCharLimit > 0 && len(content) > s.cfg.SampleCharLimit {
		content = content[:s.cfg.SampleCharLimit]
	}

	var paragraphs []string
	for _, para := range strings.Split(content, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		paragraphs = []string{strings.TrimSpace(content)}
	}

	maxSegments := s.cfg.SamplePages
	if maxSegments < 1 {
		maxSegments = 1
	}
	if maxSegments > len(paragraphs) {
		maxSegments = len(paragraphs)
	}
	indices := make([]int, maxSegments)
	for i := range indices {
		indices[i] = i
	}
	return paragraphs[:maxSegments], indices, nil
}
