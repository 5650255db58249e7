package messaging

// SceneBatchTaskPayload - задача пакетной генерации сцен истории.
type SceneBatchTaskPayload struct {
	TaskID        string   `json:"taskId"`
	JobID         string   `json:"jobId"`
	BookSlug      string   `json:"bookSlug"`
	StoryID       string   `json:"storyId"`
	SceneIDs      []string `json:"sceneIds,omitempty"` // пусто - все сцены истории
	Model         string   `json:"model,omitempty"`
	AspectRatio   string   `json:"aspectRatio,omitempty"`
	ApplyOverlays bool     `json:"applyOverlays"`
}

// ResultStatus - статус сцены или задания в результате.
type ResultStatus string

// SceneBatchResultPayload - результат по одной сцене, либо итог задания
// (SceneID пуст, статус терминальный).
type SceneBatchResultPayload struct {
	TaskID   string       `json:"taskId"`
	JobID    string       `json:"jobId"`
	SceneID  string       `json:"sceneId,omitempty"`
	Index    int          `json:"index"`
	Total    int          `json:"total"`
	Status   ResultStatus `json:"status"`
	ImageURL string       `json:"imageUrl,omitempty"`
	Error    string       `json:"error,omitempty"`
}
