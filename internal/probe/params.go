package probe

// EstimateParams derives slicing parameters for the chosen strategy.
// target_length comes from the p50 paragraph length clamped to [150,400];
// overlap defaults to 0.15 unless the custom config pins one.
func EstimateParams(p Profile, strategy string, cfg CustomConfig) map[string]any {
	targetLength := p.P50ParaLen
	if targetLength == 0 {
		targetLength = 220
	}
	if targetLength < 150 {
		targetLength = 150
	} else if targetLength > 400 {
		targetLength = 400
	}
	overlap := cfg.OverlapRatio
	if overlap == 0 {
		overlap = 0.15
	}

	params := map[string]any{
		"target_length": targetLength,
		"overlap_ratio": overlap,
	}
	switch strategy {
	case StrategyCustomDelimiter:
		delims := cfg.Delimiters
		if delims == nil {
			delims = []string{}
		}
		params["delimiters"] = delims
		params["min_segment_len"] = cfg.MinSegmentLen
		params["max_segment_len"] = cfg.MaxSegmentLen
	case StrategyTableBatch:
		params["preserve_tables"] = true
	case StrategyCodeLogBlock:
		params["no_overlap"] = true
	case StrategySlideMerge:
		params["merge_textboxes"] = true
	}
	return params
}
