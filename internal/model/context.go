package model

// PipelineContext carries the repo/build identity used to compute the
// reserved system environment variables (spec §4.4). In a local run there
// is no hosted CI backing these values, so the Engine Façade synthesizes
// them once per run.
type PipelineContext struct {
	WorkspaceDir  string
	RepoSlug      string
	RepoUUID      string
	RepoFullName  string
	BuildNumber   int64
	Commit        string
	Branch        string
	Tag           string
	Bookmark      string
	PRID          string
	PRDestination string
	DeploymentEnv string
	PipelineUUID  string
	TriggererUUID string
	RunID         string
}

// SelectionIntent is the caller's request for which pipeline to run.
type SelectionIntent struct {
	Custom   string
	Branch   string
	Pipeline string
}

// RunnerConfig is the effective, merged runner configuration (see
// internal/config for how it is assembled).
type RunnerConfig struct {
	DockerHost        string
	DefaultImage      string
	NetworkName       string
	SizeMemory        map[string]string
	SizeCPU           map[string]string
	CacheBaseDir      string
	ArtifactBaseDir   string
	HistoryPath       string
	KeysDir           string
	LogLevel          string
	Verbose           bool
	DefaultVars       map[string]string
	ArtifactsDisabled bool
	EnvFile           string
}
