package app

import (
	"github.com/yungbote/knowledgeflow-backend/internal/clients/asr"
	"github.com/yungbote/knowledgeflow-backend/internal/clients/llm"
	"github.com/yungbote/knowledgeflow-backend/internal/convert"
	"github.com/yungbote/knowledgeflow-backend/internal/meta"
	"github.com/yungbote/knowledgeflow-backend/internal/pipeline"
	"github.com/yungbote/knowledgeflow-backend/internal/probe"
	"github.com/yungbote/knowledgeflow-backend/internal/search"
	"github.com/yungbote/knowledgeflow-backend/internal/vector"
	"github.com/yungbote/knowledgeflow-backend/internal/video"
)

// RegisterAllTasks binds every queue handler into the task registry. The
// worker always calls this; the API server only in eager mode.
func (a *App) RegisterAllTasks() error {
	log := a.Log
	reg := a.TaskRegistry

	if err := convert.RegisterTasks(reg, a.Worker); err != nil {
		return err
	}
	if err := probe.RegisterTasks(reg); err != nil {
		return err
	}
	if err := pipeline.RegisterTasks(reg, a.Pipeline); err != nil {
		return err
	}

	videoCfg := video.LoadSettings(log)
	videoSvc := video.NewService(log, videoCfg, a.Store, a.Dispatcher, video.NewAVTools())
	if err := video.RegisterTasks(reg, videoSvc); err != nil {
		return err
	}
	if err := video.RegisterASRTasks(reg, asr.NewClient(log, asr.LoadConfig(log))); err != nil {
		return err
	}
	if err := video.RegisterVisionTasks(reg, llm.NewClient(log, llm.LoadConfig(log)), videoCfg); err != nil {
		return err
	}

	metaSvc := meta.NewService(log, meta.LoadSettings(log), a.Store, llm.NewClient(log, meta.LoadLLMConfig(log)))
	if err := meta.RegisterTasks(reg, metaSvc); err != nil {
		return err
	}
	if err := vector.RegisterTasks(reg, vector.NewService(log, llm.NewClient(log, llm.LoadVectorConfig(log)))); err != nil {
		return err
	}

	idxCfg := search.LoadIndexSettings(log)
	if err := search.RegisterIndexTasks(reg, search.NewIndexService(log, idxCfg, search.NewClient(log, idxCfg.Client))); err != nil {
		return err
	}
	searchCfg := search.LoadSearchSettings(log)
	if err := search.RegisterSearchTasks(reg, search.NewSearchService(log, searchCfg, search.NewClient(log, searchCfg.Client))); err != nil {
		return err
	}
	return nil
}
