package service

type PredictRequest struct {
	RequestID string         `json:"request_id,omitempty"`
	InputPath string         `json:"input_path"`
	Params    map[string]any `json:"params"`
}

type RuntimeLatencyMillis struct {
	Total   float64 `json:"total"`
	Queue   float64 `json:"queue"`
	Execute float64 `json:"execute"`
}

type RuntimeMetadata struct {
	Model     string               `json:"model"`
	Variant   string               `json:"variant"`
	BatchSize int                  `json:"batch_size,omitempty"`
	LatencyMS RuntimeLatencyMillis `json:"latency_ms"`
}

type PredictResponse struct {
	RequestID  string          `json:"request_id"`
	OutputFile string          `json:"output_file"`
	Runtime    RuntimeMetadata `json:"runtime"`
}

type DatasetFetchRequest struct {
	Name          string `json:"name"`
	Version       string `json:"version,omitempty"`
	ForceDownload bool   `json:"force_download,omitempty"`
}

type DatasetFetchResponse struct {
	Name           string `json:"name"`
	Version        string `json:"version,omitempty"`
	Path           string `json:"path"`
	Rows           int    `json:"rows"`
	Columns        int    `json:"columns"`
	Downloaded     bool   `json:"downloaded"`
	DroppedRows    int    `json:"dropped_rows"`
	DroppedColumns int    `json:"dropped_columns"`
}

type errorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}
