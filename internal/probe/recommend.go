package probe

import "strings"

// Strategy identifiers and the three canonical output modes. Every strategy
// maps onto exactly one mode; mode_id is the numeric encoding of mode.
const (
	StrategyCustomDelimiter = "custom_delimiter_split"
	StrategyHeadingBlock    = "heading_block_length_split"
	StrategySentenceSliding = "sentence_split_sliding"
	StrategyTableBatch      = "table_batch"
	StrategyCodeLogBlock    = "code_log_block"
	StrategySlideMerge      = "slide_block_textbox_merge"

	ModeDirect       = "direct_delimiter"
	ModeSemantic     = "semantic_sentence"
	ModeHierarchical = "hierarchical_heading"
)

const (
	tableGateRatio = 0.10
	codeGateRatio  = 0.05

	weightParagraph = 0.3
	weightTable     = 0.8
	weightCode      = 0.8
)

var formatTable = map[string]bool{"xlsx": true, "xls": true, "csv": true, "tsv": true}

var formatCode = map[string]bool{
	"py": true, "c": true, "cpp": true, "java": true, "js": true, "ts": true,
	"go": true, "rs": true, "rb": true, "php": true, "sh": true, "log": true,
}

var formatSlide = map[string]bool{"ppt": true, "pptx": true}

var formatTextHeading = map[string]bool{"doc": true, "docx": true, "pdf": true, "html": true, "htm": true}

// ModeForStrategy is the canonical strategy to mode/mode_id mapping.
func ModeForStrategy(strategy string) (string, int) {
	switch strategy {
	case StrategyCustomDelimiter:
		return ModeDirect, 1
	case StrategySentenceSliding:
		return ModeSemantic, 2
	default:
		return ModeHierarchical, 3
	}
}

// Tie-breaking order for argmax over score maps.
var strategyOrder = []string{
	StrategyCustomDelimiter,
	StrategyHeadingBlock,
	StrategySentenceSliding,
	StrategyTableBatch,
	StrategyCodeLogBlock,
}

var modeDescriptions = map[string]string{
	ModeDirect:       "分隔符直切，命中即用",
	ModeSemantic:     "语义/句级分段，适合结构信号弱文本",
	ModeHierarchical: "父子层级分段，基于标题/列表/长段落",
}

// CustomConfig is the caller-supplied delimiter configuration.
type CustomConfig struct {
	Enable        bool     `json:"enable"`
	Delimiters    []string `json:"delimiters"`
	MinSegments   int      `json:"min_segments"`
	MinSegmentLen int      `json:"min_segment_len"`
	MaxSegmentLen int      `json:"max_segment_len"`
	OverlapRatio  float64  `json:"overlap_ratio,omitempty"`
}

func (c *CustomConfig) withDefaults() CustomConfig {
	cfg := CustomConfig{MinSegments: 5, MinSegmentLen: 30, MaxSegmentLen: 800}
	if c == nil {
		return cfg
	}
	out := *c
	if out.MinSegments == 0 {
		out.MinSegments = cfg.MinSegments
	}
	if out.MinSegmentLen == 0 {
		out.MinSegmentLen = cfg.MinSegmentLen
	}
	if out.MaxSegmentLen == 0 {
		out.MaxSegmentLen = cfg.MaxSegmentLen
	}
	return out
}

// Recommendation is the probe's decision for one document.
type Recommendation struct {
	StrategyID    string             `json:"strategy_id"`
	Mode          string             `json:"mode"`
	ModeID        int                `json:"mode_id"`
	ModeDesc      string             `json:"mode_desc"`
	Params        map[string]any     `json:"params"`
	Candidates    map[string]float64 `json:"candidates,omitempty"`
	DelimiterHits int                `json:"delimiter_hits"`
	Profile       Profile            `json:"profile"`
	Notes         string             `json:"notes"`
}

// RecommendOptions tune a single recommendation call.
type RecommendOptions struct {
	Samples        []string
	Custom         *CustomConfig
	EmitCandidates bool
	SourceFormat   string
}

func normalizeFmt(format string) string {
	return strings.TrimLeft(strings.ToLower(strings.TrimSpace(format)), ".")
}

func formatPriorBias(fmt string) map[string]float64 {
	bias := map[string]float64{
		StrategyHeadingBlock:    0,
		StrategySentenceSliding: 0,
		StrategyTableBatch:      0,
		StrategyCodeLogBlock:    0,
	}
	switch {
	case fmt == "":
	case formatTable[fmt]:
		bias[StrategyTableBatch] += 0.35
		bias[StrategyHeadingBlock] -= 0.15
		bias[StrategySentenceSliding] -= 0.15
	case formatCode[fmt]:
		bias[StrategyCodeLogBlock] += 0.35
		bias[StrategyHeadingBlock] -= 0.1
		bias[StrategySentenceSliding] -= 0.1
		bias[StrategyTableBatch] -= 0.1
	case formatTextHeading[fmt]:
		bias[StrategyHeadingBlock] += 0.1
		bias[StrategySentenceSliding] += 0.05
	}
	// Slides hard-route before scoring and carry no bias.
	return bias
}

// RecommendStrategy picks a slicing strategy for the given profile.
// Decision order: format hard-routing, custom delimiter gate, table gate,
// long-paragraph override, code gate, then weighted scores with format bias.
func RecommendStrategy(profile Profile, opts RecommendOptions) Recommendation {
	cfg := opts.Custom.withDefaults()
	fmtNorm := normalizeFmt(opts.SourceFormat)
	if fmtNorm == "" {
		fmtNorm = normalizeFmt(profile.SourceFormat)
	}
	bias := formatPriorBias(fmtNorm)

	samplesForHits := opts.Samples
	if len(samplesForHits) == 0 {
		samplesForHits = profile.Samples
	}
	delimiterHits := DetectDelimiterHits(samplesForHits, cfg.Delimiters)

	build := func(strategy string, candidates map[string]float64, hits int, notes string, extraNote string) Recommendation {
		mode, modeID := ModeForStrategy(strategy)
		full := notes
		if extraNote != "" {
			full += "|" + extraNote
		}
		var rounded map[string]float64
		if opts.EmitCandidates && candidates != nil {
			rounded = make(map[string]float64, len(candidates))
			for k, v := range candidates {
				rounded[k] = round3(v)
			}
		}
		return Recommendation{
			StrategyID:    strategy,
			Mode:          mode,
			ModeID:        modeID,
			ModeDesc:      modeDescriptions[mode],
			Params:        EstimateParams(profile, strategy, cfg),
			Candidates:    rounded,
			DelimiterHits: hits,
			Profile:       profile.Rounded(),
			Notes:         full,
		}
	}

	// Format hard-routing.
	switch {
	case formatTable[fmtNorm]:
		return build(StrategyTableBatch, map[string]float64{StrategyTableBatch: 1},
			delimiterHits, "格式优先: 表格格式优先使用表格切片", "mapped_to_hierarchical")
	case formatCode[fmtNorm]:
		return build(StrategyCodeLogBlock, map[string]float64{StrategyCodeLogBlock: 1},
			delimiterHits, "格式优先: 代码/日志格式优先使用代码块切片", "mapped_to_hierarchical")
	case formatSlide[fmtNorm]:
		return build(StrategySlideMerge, map[string]float64{StrategySlideMerge: 1},
			delimiterHits, "格式优先: 幻灯片优先合并文本框", "mapped_to_hierarchical")
	}

	// Multi-page input: score every page, short-circuit the table gate
	// across pages, otherwise average and clamp.
	if len(opts.Samples) > 1 {
		var pages []Profile
		for _, s := range opts.Samples {
			if s == "" {
				continue
			}
			p, err := ExtractSignals([]string{s})
			if err == nil {
				pages = append(pages, p)
			}
		}
		if len(pages) > 0 {
			maxTable := 0.0
			tableHit := false
			for _, p := range pages {
				if p.TableRatio > tableGateRatio {
					tableHit = true
					if p.TableRatio > maxTable {
						maxTable = p.TableRatio
					}
				}
			}
			if tableHit {
				return build(StrategyTableBatch, map[string]float64{StrategyTableBatch: maxTable},
					delimiterHits, "推荐的策略仅供参考(跨页累计打分)", "table_detected|mapped_to_hierarchical")
			}

			agg := map[string]float64{}
			maxDelimHits := 0
			noteText := ""
			for _, p := range pages {
				pageHits := DetectDelimiterHits(p.Samples, cfg.Delimiters)
				if pageHits > maxDelimHits {
					maxDelimHits = pageHits
				}
				_, pageScores, pageNote := scoreProfile(p, pageHits, cfg, bias)
				if noteText == "" && pageNote != "" {
					noteText = pageNote
				}
				for k, v := range pageScores {
					agg[k] += v
				}
			}
			clamped := make(map[string]float64, len(agg))
			for k, v := range agg {
				c := v / float64(len(pages))
				if c > 1 {
					c = 1
				} else if c < -1 {
					c = -1
				}
				clamped[k] = c
			}
			best := ""
			for _, k := range strategyOrder {
				v, ok := clamped[k]
				if !ok {
					continue
				}
				if best == "" || v > clamped[best] {
					best = k
				}
			}
			return build(best, clamped, maxDelimHits, "推荐的策略仅供参考(跨页累计打分)", noteText)
		}
	}

	best, scores, noteText := scoreProfile(profile, delimiterHits, cfg, bias)
	return build(best, scores, delimiterHits, "推荐的策略仅供参考", noteText)
}

// scoreProfile applies gates 2..5 then the weighted score table for one page.
func scoreProfile(p Profile, delimHits int, cfg CustomConfig, bias map[string]float64) (string, map[string]float64, string) {
	h := p.HeadingRatio
	l := p.ListRatio
	t := p.TableRatio
	c := p.CodeRatio
	p90 := float64(p.P90ParaLen)

	if cfg.Enable && delimHits >= cfg.MinSegments {
		return StrategyCustomDelimiter, map[string]float64{StrategyCustomDelimiter: 1}, ""
	}
	if t > tableGateRatio {
		return StrategyTableBatch, map[string]float64{StrategyTableBatch: t}, "table_detected"
	}
	if p90 >= 800 || (p90 >= 600 && h > 0.01) {
		return StrategyHeadingBlock, map[string]float64{StrategyHeadingBlock: 1}, "forced_long_paragraph_override"
	}
	if c > codeGateRatio {
		return StrategyCodeLogBlock, map[string]float64{StrategyCodeLogBlock: c}, "code_detected"
	}

	sHeading := 0.55 + 1.5*h + 1.0*l +
		0.35*boolScore(h+l > 0.03) +
		0.35*boolScore(p90 > 500) +
		0.4*boolScore(h > 0.25 || l > 0.25)
	pTerm := 0.0
	if p90 > 0 {
		pTerm = p90 / 400
		if pTerm > 1 {
			pTerm = 1
		}
	}
	sSentence := 0.22 - 0.9*h - 0.5*l - 0.35*t - 0.35*c +
		weightParagraph*pTerm -
		0.95*maxFloat(0, (p90-500)/400)

	scores := map[string]float64{
		StrategyHeadingBlock:    sHeading + bias[StrategyHeadingBlock],
		StrategySentenceSliding: sSentence + bias[StrategySentenceSliding],
		StrategyTableBatch:      weightTable*t + bias[StrategyTableBatch],
		StrategyCodeLogBlock:    weightCode*c + bias[StrategyCodeLogBlock],
	}
	best := StrategyHeadingBlock
	for _, k := range []string{StrategySentenceSliding, StrategyTableBatch, StrategyCodeLogBlock} {
		if scores[k] > scores[best] {
			best = k
		}
	}
	return best, scores, ""
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
