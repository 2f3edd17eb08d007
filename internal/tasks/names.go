package tasks

// Logical queues. One worker pool serves each queue.
const (
	QueueConversion  = "conversion"
	QueuePipeline    = "pipeline"
	QueueProbe       = "probe"
	QueueVideo       = "video"
	QueueVideoASR    = "video_asr"
	QueueVideoVision = "video_vision"
	QueueMeta        = "meta"
	QueueVector      = "vector"
	QueueESIndex     = "es_index"
	QueueESSearch    = "es_search"
)

// Task names, addressed as <queue>.<operation>.
const (
	TaskConvertBatch = "conversion.handle_batch"

	TaskExtractAndProbe     = "pipeline.extract_and_probe"
	TaskRunDocumentPipeline = "pipeline.run_document_pipeline"
	TaskProbeExtractSignals = "probe.extract_signals"
	TaskProbeRecommend      = "probe.recommend_strategy"
	TaskVideoSlice          = "video.slice_video"
	TaskVideoTranscribe     = "video_asr.transcribe_segment"
	TaskVideoCaption        = "video_vision.caption_frame"
	TaskMetaEnrich          = "meta.enrich_manifest"
	TaskVectorEmbed         = "vector.embed_texts"
	TaskVectorRerank        = "vector.rerank"
	TaskESCreateIndex       = "es_index.create_index"
	TaskESAliasSwitch       = "es_index.alias_switch"
	TaskESBulkIndex         = "es_index.bulk_index"
	TaskESIngestDocindex    = "es_index.ingest_docindex"
	TaskESRebuildFull       = "es_index.rebuild_full"
	TaskESRebuildPartial    = "es_index.rebuild_partial"
	TaskESDeleteByQuery     = "es_index.delete_by_query"
	TaskESSearch            = "es_search.search"
	TaskESSearchVector      = "es_search.search_vector"
	TaskESSearchHybrid      = "es_search.search_hybrid"
)

// AllQueues lists every queue a full worker deployment serves.
var AllQueues = []string{
	QueueConversion, QueuePipeline, QueueProbe,
	QueueVideo, QueueVideoASR, QueueVideoVision,
	QueueMeta, QueueVector, QueueESIndex, QueueESSearch,
}
