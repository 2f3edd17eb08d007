package probe

import (
	"math"
	"testing"
)

func mustExtract(t *testing.T, samples []string) Profile {
	t.Helper()
	p, err := ExtractSignals(samples)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return p
}

func TestExtractSignalsRequiresSamples(t *testing.T) {
	if _, err := ExtractSignals(nil); err == nil {
		t.Fatal("empty sample set must error")
	}
}

func TestExtractSignalsHeadingsAndLists(t *testing.T) {
	p := mustExtract(t, []string{"# Title\n## Section\n- item one\n- item two\nplain line"})
	if p.HeadingRatio <= 0 {
		t.Fatalf("heading_ratio = %v, want > 0", p.HeadingRatio)
	}
	if p.ListRatio <= 0 {
		t.Fatalf("list_ratio = %v, want > 0", p.ListRatio)
	}
	if p.TableRatio != 0 {
		t.Fatalf("table_ratio = %v, want 0", p.TableRatio)
	}
}

func TestExtractSignalsChineseOrdinals(t *testing.T) {
	p := mustExtract(t, []string{"一、总则\n二、范围\n正文内容在此"})
	// Two of three lines carry ordinal prefixes.
	if p.HeadingRatio < 0.6 {
		t.Fatalf("heading_ratio = %v, want >= 0.6", p.HeadingRatio)
	}
}

func TestExtractSignalsTableLines(t *testing.T) {
	p := mustExtract(t, []string{"| a | b |\n| 1 | 2 |\nName,Role,Dept,Location"})
	if p.TableRatio != 1 {
		t.Fatalf("table_ratio = %v, want 1 (pipes and commas both count)", p.TableRatio)
	}
}

func TestQuantileInterpolation(t *testing.T) {
	vals := []float64{10, 20, 30, 40}
	if got := quantile(vals, 0.5); got != 25 {
		t.Fatalf("p50 = %v, want 25", got)
	}
	if got := quantile(vals, 0.9); math.Abs(got-37) > 1e-9 {
		t.Fatalf("p90 = %v, want 37", got)
	}
	if got := quantile(nil, 0.5); got != 0 {
		t.Fatalf("empty quantile = %v, want 0", got)
	}
}

func TestDetectDelimiterHits(t *testing.T) {
	if got := DetectDelimiterHits([]string{"a---b---c---d"}, []string{"---"}); got != 4 {
		t.Fatalf("hits = %d, want 4", got)
	}
	// Invalid regexes are skipped, not fatal.
	if got := DetectDelimiterHits([]string{"a,b"}, []string{"[", ","}); got != 2 {
		t.Fatalf("hits with bad pattern = %d, want 2", got)
	}
	if got := DetectDelimiterHits(nil, []string{"---"}); got != 0 {
		t.Fatalf("no samples = %d, want 0", got)
	}
}

func TestProfileRounding(t *testing.T) {
	p := Profile{HeadingRatio: 1.0 / 3.0, TableRatio: 0.6666666}
	r := p.Rounded()
	if r.HeadingRatio != 0.333 {
		t.Fatalf("heading rounded = %v, want 0.333", r.HeadingRatio)
	}
	if r.TableRatio != 0.667 {
		t.Fatalf("table rounded = %v, want 0.667", r.TableRatio)
	}
}

func TestModeBijection(t *testing.T) {
	cases := map[string]struct {
		mode string
		id   int
	}{
		StrategyCustomDelimiter: {ModeDirect, 1},
		StrategySentenceSliding: {ModeSemantic, 2},
		StrategyHeadingBlock:    {ModeHierarchical, 3},
		StrategyTableBatch:      {ModeHierarchical, 3},
		StrategyCodeLogBlock:    {ModeHierarchical, 3},
		StrategySlideMerge:      {ModeHierarchical, 3},
	}
	for strategy, want := range cases {
		mode, id := ModeForStrategy(strategy)
		if mode != want.mode || id != want.id {
			t.Fatalf("%s -> (%s,%d), want (%s,%d)", strategy, mode, id, want.mode, want.id)
		}
	}
}

func TestCustomDelimiterGate(t *testing.T) {
	samples := []string{"---a---b---c---d---"}
	profile := mustExtract(t, samples)
	rec := RecommendStrategy(profile, RecommendOptions{
		Samples: samples,
		Custom:  &CustomConfig{Enable: true, Delimiters: []string{"---"}, MinSegments: 2},
	})
	if rec.StrategyID != StrategyCustomDelimiter {
		t.Fatalf("strategy = %s, want %s", rec.StrategyID, StrategyCustomDelimiter)
	}
	if rec.Mode != ModeDirect || rec.ModeID != 1 {
		t.Fatalf("mode = %s/%d, want %s/1", rec.Mode, rec.ModeID, ModeDirect)
	}
	if rec.DelimiterHits < 2 {
		t.Fatalf("delimiter_hits = %d, want >= 2", rec.DelimiterHits)
	}
}

func TestCustomDelimiterBelowMinSegments(t *testing.T) {
	samples := []string{"a---b"}
	profile := mustExtract(t, samples)
	rec := RecommendStrategy(profile, RecommendOptions{
		Samples: samples,
		Custom:  &CustomConfig{Enable: true, Delimiters: []string{"---"}, MinSegments: 5},
	})
	if rec.StrategyID == StrategyCustomDelimiter {
		t.Fatal("delimiter gate must require min_segments")
	}
}

func TestFormatHardRouting(t *testing.T) {
	profile := mustExtract(t, []string{"plain narrative text without structure"})
	cases := map[string]string{
		"xlsx": StrategyTableBatch,
		"csv":  StrategyTableBatch,
		"py":   StrategyCodeLogBlock,
		"log":  StrategyCodeLogBlock,
		"pptx": StrategySlideMerge,
	}
	for format, want := range cases {
		rec := RecommendStrategy(profile, RecommendOptions{SourceFormat: format})
		if rec.StrategyID != want {
			t.Fatalf("format %s -> %s, want %s", format, rec.StrategyID, want)
		}
		if rec.Mode != ModeHierarchical || rec.ModeID != 3 {
			t.Fatalf("format %s mode = %s/%d, want hierarchical/3", format, rec.Mode, rec.ModeID)
		}
	}
}

func TestTableGate(t *testing.T) {
	samples := []string{
		"Name,Role,Dept,Location\nAlice,Engineer,Platform,NYC\nBob,PM,Product,SF\nCarol,Designer,Design,LDN",
		"Summary paragraph about the table above.",
	}
	profile := mustExtract(t, samples)
	rec := RecommendStrategy(profile, RecommendOptions{Samples: samples})
	if rec.StrategyID != StrategyTableBatch {
		t.Fatalf("strategy = %s, want table_batch", rec.StrategyID)
	}
	if rec.ModeID != 3 {
		t.Fatalf("mode_id = %d, want 3", rec.ModeID)
	}
}

func TestMultiPageTableShortCircuit(t *testing.T) {
	// One heading-heavy page and one table page: the table gate wins
	// regardless of page order.
	tablePage := "a,b,c,d\n1,2,3,4\n5,6,7,8"
	headingPage := "# Title\n## Section\n- one\n- two"
	for _, samples := range [][]string{
		{tablePage, headingPage},
		{headingPage, tablePage},
	} {
		profile := mustExtract(t, samples)
		rec := RecommendStrategy(profile, RecommendOptions{Samples: samples})
		if rec.StrategyID != StrategyTableBatch {
			t.Fatalf("samples %v -> %s, want table_batch", samples[:1], rec.StrategyID)
		}
	}
}

func TestCodeGate(t *testing.T) {
	samples := []string{"def foo():\n    pass\nclass Bar:\n    run();"}
	profile := mustExtract(t, samples)
	if profile.CodeRatio <= codeGateRatio {
		t.Fatalf("code_ratio = %v, want above gate", profile.CodeRatio)
	}
	rec := RecommendStrategy(profile, RecommendOptions{Samples: samples})
	if rec.StrategyID != StrategyCodeLogBlock {
		t.Fatalf("strategy = %s, want code_log_block", rec.StrategyID)
	}
}

func TestLongParagraphOverride(t *testing.T) {
	long := make([]byte, 900)
	for i := range long {
		long[i] = 'x'
	}
	profile := Profile{P90ParaLen: 900}
	rec := RecommendStrategy(profile, RecommendOptions{Samples: []string{string(long)}})
	if rec.StrategyID != StrategyHeadingBlock {
		t.Fatalf("strategy = %s, want heading_block_length_split", rec.StrategyID)
	}
}

func TestNarrativeWeightedScores(t *testing.T) {
	samples := []string{
		"This is a long paragraph extracted from a document. It contains multiple sentences that flow together without headings. The goal is contiguous narrative text.",
	}
	profile := mustExtract(t, samples)
	rec := RecommendStrategy(profile, RecommendOptions{Samples: samples, EmitCandidates: true})
	// With every ratio at zero the heading base term dominates the
	// sentence score cap of 0.52.
	if rec.StrategyID != StrategyHeadingBlock {
		t.Fatalf("strategy = %s, want heading_block_length_split", rec.StrategyID)
	}
	if _, ok := rec.Candidates[StrategySentenceSliding]; !ok {
		t.Fatal("weighted path must score sentence_split_sliding")
	}
	if rec.Candidates[StrategyHeadingBlock] <= rec.Candidates[StrategySentenceSliding] {
		t.Fatalf("heading score %v must beat sentence score %v",
			rec.Candidates[StrategyHeadingBlock], rec.Candidates[StrategySentenceSliding])
	}
}

func TestCandidatesOnlyWhenRequested(t *testing.T) {
	samples := []string{"plain narrative text for scoring"}
	profile := mustExtract(t, samples)
	if rec := RecommendStrategy(profile, RecommendOptions{Samples: samples}); rec.Candidates != nil {
		t.Fatalf("candidates without emit_candidates = %v", rec.Candidates)
	}
	rec := RecommendStrategy(profile, RecommendOptions{Samples: samples, EmitCandidates: true})
	if len(rec.Candidates) == 0 {
		t.Fatal("emit_candidates must include scores")
	}
	for k, v := range rec.Candidates {
		if round3(v) != v {
			t.Fatalf("candidate %s = %v not rounded to 3 decimals", k, v)
		}
		if v > 10 || v < -10 {
			t.Fatalf("candidate %s = %v out of sane range", k, v)
		}
	}
}

func TestMultiPageScoresClamped(t *testing.T) {
	samples := []string{
		"# A\n## B\n- one\n- two\n- three",
		"# C\n## D\n- four\n- five\n- six",
	}
	profile := mustExtract(t, samples)
	rec := RecommendStrategy(profile, RecommendOptions{Samples: samples, EmitCandidates: true})
	for k, v := range rec.Candidates {
		if v > 1 || v < -1 {
			t.Fatalf("aggregated candidate %s = %v outside [-1,1]", k, v)
		}
	}
}

func TestEstimateParams(t *testing.T) {
	cfg := (&CustomConfig{}).withDefaults()
	p := Profile{P50ParaLen: 50}
	params := EstimateParams(p, StrategySentenceSliding, cfg)
	if params["target_length"] != 150 {
		t.Fatalf("target_length = %v, want clamp to 150", params["target_length"])
	}
	if params["overlap_ratio"] != 0.15 {
		t.Fatalf("overlap_ratio = %v, want 0.15", params["overlap_ratio"])
	}

	p = Profile{P50ParaLen: 900}
	params = EstimateParams(p, StrategyTableBatch, cfg)
	if params["target_length"] != 400 {
		t.Fatalf("target_length = %v, want clamp to 400", params["target_length"])
	}
	if params["preserve_tables"] != true {
		t.Fatal("table_batch must preserve tables")
	}

	params = EstimateParams(Profile{}, StrategyCodeLogBlock, cfg)
	if params["target_length"] != 220 {
		t.Fatalf("zero p50 target_length = %v, want default 220", params["target_length"])
	}
	if params["no_overlap"] != true {
		t.Fatal("code_log_block must disable overlap")
	}

	params = EstimateParams(Profile{}, StrategySlideMerge, cfg)
	if params["merge_textboxes"] != true {
		t.Fatal("slide merge must merge textboxes")
	}

	custom := CustomConfig{Delimiters: []string{"---"}, MinSegmentLen: 10, MaxSegmentLen: 500}
	params = EstimateParams(Profile{}, StrategyCustomDelimiter, custom)
	if params["min_segment_len"] != 10 || params["max_segment_len"] != 500 {
		t.Fatalf("custom segment bounds = %v/%v", params["min_segment_len"], params["max_segment_len"])
	}
}
