package forgeapi

type RenderRequest struct {
	ScadCode string `json:"scadCode"`
}

type RenderResponse struct {
	StlPath string `json:"stlPath"`
	JobID   string `json:"jobId,omitempty"`
}

type UploadLibraryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type JobStatusResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	ArtifactID string `json:"artifact_id,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type HelloResponse struct {
	Message string `json:"message"`
}
